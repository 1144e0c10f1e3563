// Package memory manages durable agent memory blocks across the core,
// working, and archival tiers.
package memory

import (
	"context"
	"strings"

	"github.com/driftlabs/driftwood/pkg/models"
)

// Manager is the memory port the agent loop and compactor consume. Writes
// against familiar blocks queue a pending mutation instead of applying.
type Manager interface {
	// GetCoreBlocks returns the blocks compiled into the system prompt.
	GetCoreBlocks(ctx context.Context) ([]models.MemoryBlock, error)

	// GetWorkingBlocks returns the blocks prepended to message history.
	GetWorkingBlocks(ctx context.Context) ([]models.MemoryBlock, error)

	// BuildSystemPrompt renders the persona followed by the core blocks.
	BuildSystemPrompt(ctx context.Context, persona string) (string, error)

	// Read searches block content, optionally restricted to one tier.
	// An empty tier searches all tiers.
	Read(ctx context.Context, query string, limit int, tier models.MemoryTier) ([]models.MemoryBlock, error)

	// Write upserts a block by label. The outcome reports whether the
	// write applied or was queued as a pending mutation.
	Write(ctx context.Context, label, content string, tier models.MemoryTier, reason string) (*models.WriteOutcome, error)

	// List returns blocks, optionally restricted to one tier.
	List(ctx context.Context, tier models.MemoryTier) ([]models.MemoryBlock, error)

	// DeleteBlock removes a block by id.
	DeleteBlock(ctx context.Context, id string) error

	// PendingMutations lists queued writes against familiar blocks.
	PendingMutations(ctx context.Context) ([]models.PendingMutation, error)

	// ApproveMutation applies a queued write and removes it.
	ApproveMutation(ctx context.Context, id string) error

	// RejectMutation discards a queued write.
	RejectMutation(ctx context.Context, id string) error
}

// renderSystemPrompt builds the system prompt text shared by all manager
// implementations.
func renderSystemPrompt(persona string, blocks []models.MemoryBlock) string {
	var sb strings.Builder
	sb.WriteString(persona)
	for _, b := range blocks {
		sb.WriteString("\n\n<memory_block label=\"")
		sb.WriteString(b.Label)
		sb.WriteString("\">\n")
		sb.WriteString(b.Content)
		sb.WriteString("\n</memory_block>")
	}
	return sb.String()
}
