// Package agent runs the conversation loop: persist, build context, check
// the token budget, and drive bounded tool rounds against the model.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/driftlabs/driftwood/internal/compact"
	"github.com/driftlabs/driftwood/internal/llm"
	"github.com/driftlabs/driftwood/internal/memory"
	"github.com/driftlabs/driftwood/internal/sandbox"
	"github.com/driftlabs/driftwood/internal/sessions"
	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/pkg/models"
)

// Config tunes one agent instance.
type Config struct {
	Persona        string
	Model          string
	MaxToolRounds  int
	MaxTokens      int
	ModelMaxTokens int
	ContextBudget  float64
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		MaxToolRounds:  20,
		MaxTokens:      4096,
		ModelMaxTokens: 200000,
		ContextBudget:  0.8,
	}
}

// Executor is the code execution port the loop intercepts execute_code with.
// *sandbox.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, code, toolStubs string, execCtx *sandbox.Context) *sandbox.Result
}

// Compactor is the compression port the loop triggers on budget pressure and
// on explicit compact_context calls. *compact.Compactor satisfies it.
type Compactor interface {
	Compress(ctx context.Context, history []*models.Message, conversationID string) *compact.Result
}

// Agent drives one conversation. It is sequential per conversation: a single
// ProcessMessage runs one model round at a time.
type Agent struct {
	conversationID string
	provider       llm.Provider
	store          sessions.Store
	memory         memory.Manager
	registry       *tools.Registry
	executor       Executor
	compactor      Compactor
	execCtx        *sandbox.Context
	cfg            Config
	logger         *slog.Logger
	tracer         trace.Tracer
	now            func() time.Time
}

// Option customizes an Agent.
type Option func(*Agent)

// WithConfig overrides the default tuning.
func WithConfig(cfg Config) Option {
	return func(a *Agent) { a.cfg = cfg }
}

// WithExecutor enables sandboxed code execution via execute_code.
func WithExecutor(e Executor) Option {
	return func(a *Agent) { a.executor = e }
}

// WithCompactor enables context compression. Without one, budget pressure
// and compact_context calls are no-ops.
func WithCompactor(c Compactor) Option {
	return func(a *Agent) { a.compactor = c }
}

// WithSandboxContext sets the per-execution context passed to the executor.
func WithSandboxContext(sc *sandbox.Context) Option {
	return func(a *Agent) { a.execCtx = sc }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// New creates an agent bound to one conversation.
func New(conversationID string, provider llm.Provider, store sessions.Store, mem memory.Manager, registry *tools.Registry, opts ...Option) *Agent {
	a := &Agent{
		conversationID: conversationID,
		provider:       provider,
		store:          store,
		memory:         mem,
		registry:       registry,
		cfg:            DefaultConfig(),
		logger:         slog.Default(),
		tracer:         otel.Tracer("driftwood/agent"),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cfg.MaxToolRounds <= 0 {
		a.cfg.MaxToolRounds = 20
	}
	if a.cfg.ContextBudget <= 0 {
		a.cfg.ContextBudget = 0.8
	}
	if a.cfg.ModelMaxTokens <= 0 {
		a.cfg.ModelMaxTokens = 200000
	}
	return a
}

// ProcessMessage handles one user turn and returns the final assistant text.
// At minimum the user message and the final assistant message are persisted.
// Provider failures propagate; everything else degrades to tool results.
func (a *Agent) ProcessMessage(ctx context.Context, userText string) (string, error) {
	ctx, span := a.tracer.Start(ctx, "agent.process_message",
		trace.WithAttributes(attribute.String("conversation_id", a.conversationID)))
	defer span.End()

	userMsg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: a.conversationID,
		Role:           models.RoleUser,
		Content:        userText,
		CreatedAt:      a.now(),
	}
	if err := a.store.AppendMessage(ctx, userMsg); err != nil {
		return "", fmt.Errorf("persist user message: %w", err)
	}

	system, err := a.memory.BuildSystemPrompt(ctx, a.cfg.Persona)
	if err != nil {
		return "", fmt.Errorf("build system prompt: %w", err)
	}
	working, err := a.memory.GetWorkingBlocks(ctx)
	if err != nil {
		return "", fmt.Errorf("load working memory: %w", err)
	}
	history, err := a.store.History(ctx, a.conversationID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	// Budget check: compress before the first model round when the request
	// estimate crosses the configured share of the context window.
	budget := int(a.cfg.ContextBudget * float64(a.cfg.ModelMaxTokens))
	if a.compactor != nil && a.estimateRequest(system, working, history) > budget {
		result := a.compactor.Compress(ctx, history, a.conversationID)
		history = result.History
		a.logger.Info("context compressed",
			"conversation_id", a.conversationID,
			"batches_created", result.BatchesCreated,
			"messages_compressed", result.MessagesCompressed,
			"tokens_before", result.TokensEstimateBefore,
			"tokens_after", result.TokensEstimateAfter)
	}

	messages := buildMessages(working, history)
	modelTools := a.registry.ToModelTools()

	finalText := ""
	for round := 0; round < a.cfg.MaxToolRounds; round++ {
		resp, err := a.completeRound(ctx, round, system, messages, modelTools)
		if err != nil {
			return "", err
		}

		assistantMsg := &models.Message{
			ID:             uuid.NewString(),
			ConversationID: a.conversationID,
			Role:           models.RoleAssistant,
			Blocks:         resp.Content,
			CreatedAt:      a.now(),
		}
		if err := a.store.AppendMessage(ctx, assistantMsg); err != nil {
			return "", fmt.Errorf("persist assistant message: %w", err)
		}
		messages = append(messages, llm.Message{Role: models.RoleAssistant, Blocks: resp.Content})
		if text := assistantMsg.Text(); text != "" {
			finalText = text
		}

		if resp.StopReason != llm.StopToolUse {
			return finalText, nil
		}

		results := a.runToolRound(ctx, assistantMsg.ToolUses())
		if len(results) == 0 {
			return finalText, nil
		}
		resultMsg := &models.Message{
			ID:             uuid.NewString(),
			ConversationID: a.conversationID,
			Role:           models.RoleTool,
			Blocks:         results,
			CreatedAt:      a.now(),
		}
		if err := a.store.AppendMessage(ctx, resultMsg); err != nil {
			return "", fmt.Errorf("persist tool results: %w", err)
		}
		messages = append(messages, llm.Message{Role: models.RoleTool, Blocks: results})
	}

	// Round limit hit: a partial answer beats an unbounded loop.
	a.logger.Warn("tool round limit reached", "conversation_id", a.conversationID,
		"max_tool_rounds", a.cfg.MaxToolRounds)
	return finalText, nil
}

func (a *Agent) completeRound(ctx context.Context, round int, system string, messages []llm.Message, modelTools []tools.ModelTool) (*llm.CompletionResponse, error) {
	ctx, span := a.tracer.Start(ctx, "agent.tool_round",
		trace.WithAttributes(attribute.Int("round", round)))
	defer span.End()

	resp, err := a.provider.Complete(ctx, &llm.CompletionRequest{
		Model:     a.cfg.Model,
		System:    system,
		Messages:  messages,
		Tools:     modelTools,
		MaxTokens: a.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("model round %d: %w", round, err)
	}
	return resp, nil
}

// runToolRound executes the round's tool_use blocks in model-emitted order
// and returns the matching tool_result blocks.
func (a *Agent) runToolRound(ctx context.Context, uses []models.ContentBlock) []models.ContentBlock {
	results := make([]models.ContentBlock, 0, len(uses))
	for _, use := range uses {
		var result models.ToolResult
		switch use.Name {
		case tools.NameExecuteCode:
			result = a.executeCode(ctx, use.Input)
		case tools.NameCompactContext:
			result = a.compactContext(ctx)
		default:
			result = a.registry.Dispatch(ctx, use.Name, use.Input)
		}

		content := result.Output
		if !result.Success {
			content = result.Error
		}
		results = append(results, models.ToolResultBlock(use.ID, content, !result.Success))
	}
	return results
}

func (a *Agent) executeCode(ctx context.Context, input map[string]any) models.ToolResult {
	if a.executor == nil {
		return models.ErrResult("code execution is not available")
	}
	code, _ := input["code"].(string)
	if code == "" {
		return models.ErrResult("missing required parameter: code")
	}

	ctx, span := a.tracer.Start(ctx, "agent.execute_code")
	defer span.End()

	res := a.executor.Execute(ctx, code, a.registry.GenerateStubs(), a.execCtx)
	if !res.Success {
		return models.ErrResult("%s", res.Error)
	}
	return models.OkResult(res.Output)
}

// compactContext runs on-demand compression. Without a compactor it reports
// zero stats rather than failing the round.
func (a *Agent) compactContext(ctx context.Context) models.ToolResult {
	var result *compact.Result
	if a.compactor == nil {
		result = &compact.Result{}
	} else {
		history, err := a.store.History(ctx, a.conversationID)
		if err != nil {
			return models.ErrResult("load history: %v", err)
		}
		ctx, span := a.tracer.Start(ctx, "agent.compact_context")
		defer span.End()
		result = a.compactor.Compress(ctx, history, a.conversationID)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return models.ErrResult("encode compaction result: %v", err)
	}
	return models.OkResult(string(raw))
}

func (a *Agent) estimateRequest(system string, working []models.MemoryBlock, history []*models.Message) int {
	total := compact.EstimateTokens(system)
	for _, b := range working {
		total += compact.EstimateTokens(b.Content)
	}
	return total + compact.EstimateHistory(history)
}

// buildMessages prepends working-memory blocks to the conversation history.
func buildMessages(working []models.MemoryBlock, history []*models.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(working)+len(history))
	for _, b := range working {
		messages = append(messages, llm.Message{
			Role:    models.RoleSystem,
			Content: fmt.Sprintf("<memory_block label=%q>\n%s\n</memory_block>", b.Label, b.Content),
		})
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content, Blocks: m.Blocks})
	}
	return messages
}
