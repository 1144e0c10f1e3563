// Package sessions persists conversation messages.
package sessions

import (
	"context"
	"errors"

	"github.com/driftlabs/driftwood/pkg/models"
)

// ErrNotFound is returned when a message or conversation does not exist.
var ErrNotFound = errors.New("not found")

// Store is the message persistence port. History returns messages ordered
// by (created_at, id), which is total and monotonic with insertion within a
// conversation.
type Store interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	History(ctx context.Context, conversationID string) ([]*models.Message, error)
	DeleteMessages(ctx context.Context, ids []string) error
}
