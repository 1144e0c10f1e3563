// Package llm defines the model provider port: the completion request and
// response shapes the runtime exchanges with concrete adapters.
package llm

import (
	"context"
	"strings"

	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/pkg/models"
)

// Stop reasons reported by providers.
const (
	StopEndTurn      = "end_turn"
	StopToolUse      = "tool_use"
	StopMaxTokens    = "max_tokens"
	StopStopSequence = "stop_sequence"
)

// Stream event types.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventMessageStop       = "message_stop"
)

// Message is one turn in a completion request. Blocks, when non-empty, is
// the structured body and takes precedence over Content.
type Message struct {
	Role    models.Role           `json:"role"`
	Content string                `json:"content,omitempty"`
	Blocks  []models.ContentBlock `json:"blocks,omitempty"`
}

// CompletionRequest is a single model round trip.
// System-role messages may appear inline in Messages; adapters merge them
// with the System field.
type CompletionRequest struct {
	Model       string            `json:"model"`
	System      string            `json:"system,omitempty"`
	Messages    []Message         `json:"messages"`
	Tools       []tools.ModelTool `json:"tools,omitempty"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
}

// Text returns the message's plain content, or the concatenated text blocks
// when the structured body is set.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if b.Type == models.BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// Usage reports token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// CompletionResponse is the model's reply: ordered content blocks (text and
// tool_use) plus the stop reason.
type CompletionResponse struct {
	Content    []models.ContentBlock `json:"content"`
	StopReason string                `json:"stop_reason"`
	Usage      Usage                 `json:"usage"`
}

// Text returns the concatenated text blocks of the response.
func (r *CompletionResponse) Text() string {
	var out string
	for _, b := range r.Content {
		if b.Type == models.BlockText {
			out += b.Text
		}
	}
	return out
}

// StreamEvent is one element of a streaming completion.
type StreamEvent struct {
	Type     string               `json:"type"`
	Index    int                  `json:"index,omitempty"`
	Delta    string               `json:"delta,omitempty"`
	Block    *models.ContentBlock `json:"block,omitempty"`
	Response *CompletionResponse  `json:"response,omitempty"`
	Err      error                `json:"-"`
}

// Provider is the model backend port. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Name identifies the provider (anthropic, openai).
	Name() string

	// Complete performs one blocking completion round trip.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream yields message_start / content_block_start /
	// content_block_delta / message_stop events. The channel closes after
	// message_stop or an event with Err set.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)
}
