package models

import "time"

// MemoryTier partitions memory blocks by how they enter the context window.
type MemoryTier string

const (
	// TierCore blocks are compiled into the system prompt.
	TierCore MemoryTier = "core"
	// TierWorking blocks are prepended to the message history.
	TierWorking MemoryTier = "working"
	// TierArchival blocks are searchable but not loaded by default.
	TierArchival MemoryTier = "archival"
)

// MemoryPermission controls who may mutate a block.
type MemoryPermission string

const (
	PermReadOnly  MemoryPermission = "readonly"
	PermReadWrite MemoryPermission = "readwrite"
	// PermFamiliar blocks queue a pending mutation instead of applying writes.
	PermFamiliar MemoryPermission = "familiar"
)

// MemoryBlock is a labelled unit of durable agent memory.
type MemoryBlock struct {
	ID         string           `json:"id"`
	Owner      string           `json:"owner"`
	Tier       MemoryTier       `json:"tier"`
	Label      string           `json:"label"`
	Content    string           `json:"content"`
	Permission MemoryPermission `json:"permission"`
	Pinned     bool             `json:"pinned"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// PendingMutation is a queued write against a familiar block, awaiting
// approval.
type PendingMutation struct {
	ID        string    `json:"id"`
	BlockID   string    `json:"block_id"`
	Label     string    `json:"label"`
	Content   string    `json:"content"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteOutcome reports what a memory write did. Applied is false when the
// target block is familiar and the write was queued as a mutation instead.
type WriteOutcome struct {
	Applied  bool             `json:"applied"`
	Block    *MemoryBlock     `json:"block,omitempty"`
	Mutation *PendingMutation `json:"mutation,omitempty"`
	Err      string           `json:"error,omitempty"`
}
