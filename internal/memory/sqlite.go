package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/driftlabs/driftwood/pkg/models"
)

// ErrBlockNotFound is returned when a block or mutation id does not exist.
var ErrBlockNotFound = errors.New("memory block not found")

const memorySchema = `
CREATE TABLE IF NOT EXISTS memory_blocks (
	id         TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	tier       TEXT NOT NULL,
	label      TEXT NOT NULL UNIQUE,
	content    TEXT NOT NULL,
	permission TEXT NOT NULL,
	pinned     INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_blocks_tier ON memory_blocks(tier);

CREATE TABLE IF NOT EXISTS pending_mutations (
	id         TEXT PRIMARY KEY,
	block_id   TEXT NOT NULL,
	label      TEXT NOT NULL,
	content    TEXT NOT NULL,
	reason     TEXT,
	created_at TIMESTAMP NOT NULL
);
`

// SQLiteManager implements Manager on a SQLite database.
type SQLiteManager struct {
	db    *sql.DB
	owner string
}

// OpenSQLite opens (creating if needed) the memory store at path. Blocks
// created through this manager are owned by owner.
func OpenSQLite(path, owner string) (*SQLiteManager, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(memorySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory: %w", err)
	}
	return &SQLiteManager{db: db, owner: owner}, nil
}

// NewSQLiteManager wraps an existing database handle, applying the schema.
func NewSQLiteManager(db *sql.DB, owner string) (*SQLiteManager, error) {
	if _, err := db.Exec(memorySchema); err != nil {
		return nil, fmt.Errorf("migrate memory: %w", err)
	}
	return &SQLiteManager{db: db, owner: owner}, nil
}

// Close closes the underlying database.
func (m *SQLiteManager) Close() error { return m.db.Close() }

func (m *SQLiteManager) GetCoreBlocks(ctx context.Context) ([]models.MemoryBlock, error) {
	return m.List(ctx, models.TierCore)
}

func (m *SQLiteManager) GetWorkingBlocks(ctx context.Context) ([]models.MemoryBlock, error) {
	return m.List(ctx, models.TierWorking)
}

func (m *SQLiteManager) BuildSystemPrompt(ctx context.Context, persona string) (string, error) {
	core, err := m.GetCoreBlocks(ctx)
	if err != nil {
		return "", err
	}
	return renderSystemPrompt(persona, core), nil
}

func (m *SQLiteManager) Read(ctx context.Context, query string, limit int, tier models.MemoryTier) ([]models.MemoryBlock, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `SELECT id, owner, tier, label, content, permission, pinned, created_at, updated_at
	      FROM memory_blocks WHERE (label LIKE ? OR content LIKE ?)`
	args := []any{"%" + query + "%", "%" + query + "%"}
	if tier != "" {
		q += " AND tier = ?"
		args = append(args, string(tier))
	}
	q += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)
	return m.queryBlocks(ctx, q, args...)
}

func (m *SQLiteManager) Write(ctx context.Context, label, content string, tier models.MemoryTier, reason string) (*models.WriteOutcome, error) {
	if tier == "" {
		tier = models.TierArchival
	}
	existing, err := m.blockByLabel(ctx, label)
	if err != nil && !errors.Is(err, ErrBlockNotFound) {
		return nil, err
	}
	now := time.Now()

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
		_, err := m.db.ExecContext(ctx,
			`INSERT INTO memory_blocks (id, owner, tier, label, content, permission, pinned, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			block.ID, block.Owner, string(block.Tier), block.Label, block.Content,
			string(block.Permission), block.CreatedAt.UTC(), block.UpdatedAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("insert block: %w", err)
		}
		return &models.WriteOutcome{Applied: true, Block: &block}, nil
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
		_, err := m.db.ExecContext(ctx,
			`INSERT INTO pending_mutations (id, block_id, label, content, reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			mutation.ID, mutation.BlockID, mutation.Label, mutation.Content, mutation.Reason, mutation.CreatedAt.UTC())
		if err != nil {
			return nil, fmt.Errorf("queue mutation: %w", err)
		}
		return &models.WriteOutcome{Applied: false, Mutation: &mutation}, nil
	default:
		if existing.Owner != m.owner {
			return &models.WriteOutcome{Applied: false, Err: fmt.Sprintf("block %s is owned by %s", label, existing.Owner)}, nil
		}
		_, err := m.db.ExecContext(ctx,
			`UPDATE memory_blocks SET content = ?, tier = ?, updated_at = ? WHERE id = ?`,
			content, string(tier), now.UTC(), existing.ID)
		if err != nil {
			return nil, fmt.Errorf("update block: %w", err)
		}
		existing.Content = content
		existing.Tier = tier
		existing.UpdatedAt = now
		return &models.WriteOutcome{Applied: true, Block: existing}, nil
	}
}

func (m *SQLiteManager) List(ctx context.Context, tier models.MemoryTier) ([]models.MemoryBlock, error) {
	q := `SELECT id, owner, tier, label, content, permission, pinned, created_at, updated_at FROM memory_blocks`
	var args []any
	if tier != "" {
		q += " WHERE tier = ?"
		args = append(args, string(tier))
	}
	q += " ORDER BY created_at, id"
	return m.queryBlocks(ctx, q, args...)
}

func (m *SQLiteManager) DeleteBlock(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM memory_blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (m *SQLiteManager) PendingMutations(ctx context.Context) ([]models.PendingMutation, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, block_id, label, content, reason, created_at FROM pending_mutations ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	var out []models.PendingMutation
	for rows.Next() {
		var mu models.PendingMutation
		var reason sql.NullString
		if err := rows.Scan(&mu.ID, &mu.BlockID, &mu.Label, &mu.Content, &reason, &mu.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		mu.Reason = reason.String
		out = append(out, mu)
	}
	return out, rows.Err()
}

func (m *SQLiteManager) ApproveMutation(ctx context.Context, id string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approve: %w", err)
	}
	defer tx.Rollback()

	var blockID, content string
	err = tx.QueryRowContext(ctx, `SELECT block_id, content FROM pending_mutations WHERE id = ?`, id).
		Scan(&blockID, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBlockNotFound
	}
	if err != nil {
		return fmt.Errorf("load mutation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE memory_blocks SET content = ?, updated_at = ? WHERE id = ?`,
		content, time.Now().UTC(), blockID); err != nil {
		return fmt.Errorf("apply mutation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("clear mutation: %w", err)
	}
	return tx.Commit()
}

func (m *SQLiteManager) RejectMutation(ctx context.Context, id string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM pending_mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("reject mutation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (m *SQLiteManager) blockByLabel(ctx context.Context, label string) (*models.MemoryBlock, error) {
	blocks, err := m.queryBlocks(ctx,
		`SELECT id, owner, tier, label, content, permission, pinned, created_at, updated_at
		 FROM memory_blocks WHERE label = ?`, label)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, ErrBlockNotFound
	}
	return &blocks[0], nil
}

func (m *SQLiteManager) queryBlocks(ctx context.Context, query string, args ...any) ([]models.MemoryBlock, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var out []models.MemoryBlock
	for rows.Next() {
		var (
			b          models.MemoryBlock
			tier       string
			permission string
			pinned     int
		)
		if err := rows.Scan(&b.ID, &b.Owner, &tier, &b.Label, &b.Content, &permission, &pinned, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		b.Tier = models.MemoryTier(tier)
		b.Permission = models.MemoryPermission(permission)
		b.Pinned = pinned != 0
		out = append(out, b)
	}
	return out, rows.Err()
}
