package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftlabs/driftwood/pkg/models"
)

// InMemManager is an in-memory Manager for tests and local runs.
type InMemManager struct {
	mu        sync.RWMutex
	owner     string
	blocks    map[string]*models.MemoryBlock // by id
	mutations map[string]*models.PendingMutation
}

// NewInMemManager creates an empty in-memory manager.
func NewInMemManager(owner string) *InMemManager {
	return &InMemManager{
		owner:     owner,
		blocks:    make(map[string]*models.MemoryBlock),
		mutations: make(map[string]*models.PendingMutation),
	}
}

// Seed installs a block directly, for test setup.
func (m *InMemManager) Seed(block models.MemoryBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if block.Permission == "" {
		block.Permission = models.PermReadWrite
	}
	m.blocks[block.ID] = &block
}

func (m *InMemManager) GetCoreBlocks(ctx context.Context) ([]models.MemoryBlock, error) {
	return m.List(ctx, models.TierCore)
}

func (m *InMemManager) GetWorkingBlocks(ctx context.Context) ([]models.MemoryBlock, error) {
	return m.List(ctx, models.TierWorking)
}

func (m *InMemManager) BuildSystemPrompt(ctx context.Context, persona string) (string, error) {
	core, err := m.GetCoreBlocks(ctx)
	if err != nil {
		return "", err
	}
	return renderSystemPrompt(persona, core), nil
}

func (m *InMemManager) Read(ctx context.Context, query string, limit int, tier models.MemoryTier) ([]models.MemoryBlock, error) {
	if limit <= 0 {
		limit = 10
	}
	all, err := m.List(ctx, tier)
	if err != nil {
		return nil, err
	}
	var out []models.MemoryBlock
	for _, b := range all {
		if strings.Contains(b.Label, query) || strings.Contains(b.Content, query) {
			out = append(out, b)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *InMemManager) Write(ctx context.Context, label, content string, tier models.MemoryTier, reason string) (*models.WriteOutcome, error) {
	if tier == "" {
		tier = models.TierArchival
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()

	var existing *models.MemoryBlock
	for _, b := range m.blocks {
		if b.Label == label {
			existing = b
			break
		}
	}

	if existing == nil {
		block := models.MemoryBlock{
			ID:         uuid.NewString(),
			Owner:      m.owner,
			Tier:       tier,
			Label:      label,
			Content:    content,
			Permission: models.PermReadWrite,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		m.blocks[block.ID] = &block
		copied := block
		return &models.WriteOutcome{Applied: true, Block: &copied}, nil
	}

	switch existing.Permission {
	case models.PermReadOnly:
		return &models.WriteOutcome{Applied: false, Err: fmt.Sprintf("block %s is readonly", label)}, nil
	case models.PermFamiliar:
		mutation := models.PendingMutation{
			ID:        uuid.NewString(),
			BlockID:   existing.ID,
			Label:     label,
			Content:   content,
			Reason:    reason,
			CreatedAt: now,
		}
		m.mutations[mutation.ID] = &mutation
		copied := mutation
		return &models.WriteOutcome{Applied: false, Mutation: &copied}, nil
	default:
		if existing.Owner != m.owner {
			return &models.WriteOutcome{Applied: false, Err: fmt.Sprintf("block %s is owned by %s", label, existing.Owner)}, nil
		}
		existing.Content = content
		existing.Tier = tier
		existing.UpdatedAt = now
		copied := *existing
		return &models.WriteOutcome{Applied: true, Block: &copied}, nil
	}
}

func (m *InMemManager) List(ctx context.Context, tier models.MemoryTier) ([]models.MemoryBlock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MemoryBlock
	for _, b := range m.blocks {
		if tier == "" || b.Tier == tier {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *InMemManager) DeleteBlock(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocks[id]; !ok {
		return ErrBlockNotFound
	}
	delete(m.blocks, id)
	return nil
}

func (m *InMemManager) PendingMutations(ctx context.Context) ([]models.PendingMutation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PendingMutation
	for _, mu := range m.mutations {
		out = append(out, *mu)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *InMemManager) ApproveMutation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mu, ok := m.mutations[id]
	if !ok {
		return ErrBlockNotFound
	}
	if block, ok := m.blocks[mu.BlockID]; ok {
		block.Content = mu.Content
		block.UpdatedAt = time.Now()
	}
	delete(m.mutations, id)
	return nil
}

func (m *InMemManager) RejectMutation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mutations[id]; !ok {
		return ErrBlockNotFound
	}
	delete(m.mutations, id)
	return nil
}
