package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/driftlabs/driftwood/pkg/models"
)

const messagesSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	created_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at, id);
`

// messageBody is the serialized content column: a plain string or a block
// sequence.
type messageBody struct {
	Content string                `json:"content,omitempty"`
	Blocks  []models.ContentBlock `json:"blocks,omitempty"`
}

// SQLiteStore implements Store on a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the message store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids lock contention.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(messagesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate messages: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an existing database handle, applying the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(messagesSchema); err != nil {
		return nil, fmt.Errorf("migrate messages: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// AppendMessage inserts one message, generating ID and timestamp when unset.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	body, err := encodeBody(msg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), body, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// History returns the conversation's messages ordered by created_at then id.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at, id`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []*models.Message
	for rows.Next() {
		var (
			msg  models.Message
			role string
			body string
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &body, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := decodeBody(body, &msg); err != nil {
			return nil, err
		}
		history = append(history, &msg)
	}
	return history, rows.Err()
}

// DeleteMessages removes the given ids in one statement.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args := deleteQuery(ids)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}

// Replace deletes a set of messages and inserts one replacement in a single
// transaction, so a failed insert never leaves the conversation truncated.
func (s *SQLiteStore) Replace(ctx context.Context, deleteIDs []string, insert *models.Message) error {
	if insert == nil {
		return fmt.Errorf("replacement message is required")
	}
	if insert.ID == "" {
		insert.ID = uuid.NewString()
	}
	if insert.CreatedAt.IsZero() {
		insert.CreatedAt = time.Now()
	}
	body, err := encodeBody(insert)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if len(deleteIDs) > 0 {
		query, args := deleteQuery(deleteIDs)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		insert.ID, insert.ConversationID, string(insert.Role), body, insert.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert replacement: %w", err)
	}
	return tx.Commit()
}

func deleteQuery(ids []string) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return "DELETE FROM messages WHERE id IN (" + strings.Join(placeholders, ", ") + ")", args
}

func encodeBody(msg *models.Message) (string, error) {
	raw, err := json.Marshal(messageBody{Content: msg.Content, Blocks: msg.Blocks})
	if err != nil {
		return "", fmt.Errorf("marshal message body: %w", err)
	}
	return string(raw), nil
}

func decodeBody(raw string, msg *models.Message) error {
	var body messageBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return fmt.Errorf("unmarshal message body: %w", err)
	}
	msg.Content = body.Content
	msg.Blocks = body.Blocks
	return nil
}
