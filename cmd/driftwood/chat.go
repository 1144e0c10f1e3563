package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/driftlabs/driftwood/internal/agent"
	"github.com/driftlabs/driftwood/internal/compact"
	"github.com/driftlabs/driftwood/internal/config"
	"github.com/driftlabs/driftwood/internal/llm"
	"github.com/driftlabs/driftwood/internal/llm/providers"
	"github.com/driftlabs/driftwood/internal/memory"
	"github.com/driftlabs/driftwood/internal/sandbox"
	"github.com/driftlabs/driftwood/internal/sessions"
	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/internal/tools/builtin"
)

func buildChatCmd() *cobra.Command {
	var conversationID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runChat(cfg, conversationID)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "default", "Conversation to resume or start")
	return cmd
}

func runChat(cfg *config.Config, conversationID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	db, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := sessions.NewSQLiteStore(db)
	if err != nil {
		return err
	}
	mem, err := memory.NewSQLiteManager(db, "agent")
	if err != nil {
		return err
	}

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(logger)
	if err := builtin.Register(registry, mem); err != nil {
		return err
	}

	executor := sandbox.NewExecutor(sandbox.Config{
		WorkingDir:          cfg.Sandbox.WorkingDir,
		AllowedHosts:        cfg.Sandbox.AllowedHosts,
		AllowedReadPaths:    cfg.Sandbox.AllowedReadPaths,
		AllowedRun:          cfg.Sandbox.AllowedRun,
		MaxCodeSize:         cfg.Sandbox.MaxCodeSize,
		MaxOutputSize:       cfg.Sandbox.MaxOutputSize,
		MaxToolCallsPerExec: cfg.Sandbox.MaxToolCallsPerExec,
		CodeTimeout:         cfg.Sandbox.CodeTimeout,
	}, registry, logger)

	compactor := compact.New(compact.Config{
		ChunkSize:        cfg.Compact.ChunkSize,
		KeepRecent:       cfg.Compact.KeepRecent,
		MaxSummaryTokens: cfg.Compact.MaxSummaryTokens,
		ClipFirst:        cfg.Compact.ClipFirst,
		ClipLast:         cfg.Compact.ClipLast,
		Prompt:           cfg.Compact.Prompt,
		Model:            cfg.Model,
	}, provider, mem, store, logger)

	a := agent.New(conversationID, provider, store, mem, registry,
		agent.WithConfig(agent.Config{
			Persona:        cfg.Agent.Persona,
			Model:          cfg.Model,
			MaxToolRounds:  cfg.Agent.MaxToolRounds,
			MaxTokens:      cfg.Agent.MaxTokens,
			ModelMaxTokens: cfg.Agent.ModelMaxTokens,
			ContextBudget:  cfg.Agent.ContextBudget,
		}),
		agent.WithExecutor(executor),
		agent.WithCompactor(compactor),
		agent.WithLogger(logger),
	)

	fmt.Printf("driftwood chat (conversation %s, provider %s). Type 'exit' to quit.\n",
		conversationID, provider.Name())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := a.ProcessMessage(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error("turn failed", "error", err)
			continue
		}
		fmt.Println(reply)
	}
	return scanner.Err()
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock contention.
	db.SetMaxOpenConns(1)
	return db, nil
}

func buildProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "anthropic":
		if cfg.Secrets.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey: cfg.Secrets.AnthropicAPIKey,
			Model:  cfg.Model,
		}, logger), nil
	case "openai":
		if cfg.Secrets.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey: cfg.Secrets.OpenAIAPIKey,
			Model:  cfg.Model,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
