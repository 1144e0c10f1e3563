package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/driftwood/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*models.Message // conversation_id -> messages
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*models.Message)}
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *msg
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt
	m.messages[clone.ConversationID] = append(m.messages[clone.ConversationID], &clone)
	return nil
}

func (m *MemoryStore) History(ctx context.Context, conversationID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		clone := *msg
		out[i] = &clone
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteMessages(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(ids)
	return nil
}

// Replace implements the transactional delete+insert capability.
func (m *MemoryStore) Replace(ctx context.Context, deleteIDs []string, insert *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(deleteIDs)
	clone := *insert
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	insert.ID = clone.ID
	insert.CreatedAt = clone.CreatedAt
	m.messages[clone.ConversationID] = append(m.messages[clone.ConversationID], &clone)
	return nil
}

func (m *MemoryStore) deleteLocked(ids []string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for conv, msgs := range m.messages {
		kept := msgs[:0]
		for _, msg := range msgs {
			if !drop[msg.ID] {
				kept = append(kept, msg)
			}
		}
		m.messages[conv] = kept
	}
}
