// Package builtin registers the standard tool set: memory access tools plus
// the loop-dispatched execute_code and compact_context definitions.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/driftlabs/driftwood/internal/memory"
	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/pkg/models"
)

// Register adds the builtin tools to the registry.
func Register(registry *tools.Registry, mem memory.Manager) error {
	set := []tools.Tool{
		memoryReadTool(mem),
		memoryWriteTool(mem),
		memoryListTool(mem),
		executeCodeTool(),
		compactContextTool(),
	}
	for _, tool := range set {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register builtin: %w", err)
		}
	}
	return nil
}

func memoryReadTool(mem memory.Manager) tools.Tool {
	return tools.Tool{
		Def: models.ToolDefinition{
			Name:        "memory_read",
			Description: "Search memory blocks by label or content. Archived conversation summaries live in the archival tier.",
			Parameters: []models.ToolParam{
				{Name: "query", Type: models.ParamString, Description: "Search text matched against labels and content", Required: true},
				{Name: "limit", Type: models.ParamNumber, Description: "Maximum number of blocks to return"},
				{Name: "tier", Type: models.ParamString, Description: "Restrict the search to one tier", Enum: []string{"core", "working", "archival"}},
			},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			query, _ := params["query"].(string)
			limit := intParam(params, "limit", 10)
			tier := models.MemoryTier(stringParam(params, "tier"))

			blocks, err := mem.Read(ctx, query, limit, tier)
			if err != nil {
				return "", fmt.Errorf("memory read: %w", err)
			}
			if len(blocks) == 0 {
				return "no matching memory blocks", nil
			}
			return encodeBlocks(blocks)
		},
	}
}

func memoryWriteTool(mem memory.Manager) tools.Tool {
	return tools.Tool{
		Def: models.ToolDefinition{
			Name:        "memory_write",
			Description: "Create or update a memory block by label. Writes to familiar blocks queue a pending mutation for review.",
			Parameters: []models.ToolParam{
				{Name: "label", Type: models.ParamString, Description: "Unique block label", Required: true},
				{Name: "content", Type: models.ParamString, Description: "New block content", Required: true},
				{Name: "tier", Type: models.ParamString, Description: "Memory tier for new blocks", Enum: []string{"core", "working", "archival"}},
				{Name: "reason", Type: models.ParamString, Description: "Why this write is happening"},
			},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			label, _ := params["label"].(string)
			content, _ := params["content"].(string)
			tier := models.MemoryTier(stringParam(params, "tier"))
			reason := stringParam(params, "reason")

			outcome, err := mem.Write(ctx, label, content, tier, reason)
			if err != nil {
				return "", fmt.Errorf("memory write: %w", err)
			}
			switch {
			case outcome.Err != "":
				return "", fmt.Errorf("%s", outcome.Err)
			case outcome.Mutation != nil:
				return fmt.Sprintf("write queued for review (mutation %s)", outcome.Mutation.ID), nil
			default:
				return fmt.Sprintf("block %s written", label), nil
			}
		},
	}
}

func memoryListTool(mem memory.Manager) tools.Tool {
	return tools.Tool{
		Def: models.ToolDefinition{
			Name:        "memory_list",
			Description: "List memory blocks, optionally restricted to one tier.",
			Parameters: []models.ToolParam{
				{Name: "tier", Type: models.ParamString, Description: "Restrict the listing to one tier", Enum: []string{"core", "working", "archival"}},
			},
		},
		Handler: func(ctx context.Context, params map[string]any) (string, error) {
			tier := models.MemoryTier(stringParam(params, "tier"))
			blocks, err := mem.List(ctx, tier)
			if err != nil {
				return "", fmt.Errorf("memory list: %w", err)
			}
			if len(blocks) == 0 {
				return "no memory blocks", nil
			}
			return encodeBlocks(blocks)
		},
	}
}

// executeCodeTool advertises sandboxed execution to the model. Dispatch is
// intercepted by the agent loop.
func executeCodeTool() tools.Tool {
	return tools.Tool{
		Def: models.ToolDefinition{
			Name:        tools.NameExecuteCode,
			Description: "Run TypeScript in a sandbox with the registered tools available as async functions. Use output(...) to return results.",
			Parameters: []models.ToolParam{
				{Name: "code", Type: models.ParamString, Description: "TypeScript source to execute", Required: true},
			},
		},
		Handler: tools.SentinelHandler,
	}
}

// compactContextTool advertises on-demand context compression. Dispatch is
// intercepted by the agent loop.
func compactContextTool() tools.Tool {
	return tools.Tool{
		Def: models.ToolDefinition{
			Name:        tools.NameCompactContext,
			Description: "Compress older conversation history into archived summaries to free context space.",
		},
		Handler: tools.SentinelHandler,
	}
}

func encodeBlocks(blocks []models.MemoryBlock) (string, error) {
	type entry struct {
		Label   string `json:"label"`
		Tier    string `json:"tier"`
		Content string `json:"content"`
	}
	entries := make([]entry, len(blocks))
	for i, b := range blocks {
		entries[i] = entry{Label: b.Label, Tier: string(b.Tier), Content: b.Content}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode blocks: %w", err)
	}
	return string(raw), nil
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

func intParam(params map[string]any, name string, fallback int) int {
	switch v := params[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
