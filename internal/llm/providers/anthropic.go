package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/driftlabs/driftwood/internal/llm"
	"github.com/driftlabs/driftwood/internal/observability"
	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/pkg/models"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// AnthropicProvider adapts the official Anthropic SDK to the llm.Provider
// port.
type AnthropicProvider struct {
	client     anthropic.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewAnthropicProvider creates an adapter from config, applying defaults for
// model, retries, and backoff.
func NewAnthropicProvider(cfg AnthropicConfig, logger *slog.Logger) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}

	// The adapter owns retry policy; the SDK's built-in retries would
	// stack on top of withRetries.
	options := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:     anthropic.NewClient(options...),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With("provider", "anthropic"),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Complete performs one blocking round trip with retries on transient
// failures.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	err = withRetries(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		msg, callErr = p.client.Messages.New(ctx, *params)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		observability.ModelRequests.WithLabelValues("anthropic", "error").Inc()
		return nil, err
	}

	resp, err := translateMessage(msg)
	if err != nil {
		observability.ModelRequests.WithLabelValues("anthropic", "error").Inc()
		return nil, err
	}
	observability.ModelRequests.WithLabelValues("anthropic", "ok").Inc()
	return resp, nil
}

// Stream yields incremental events; the final message_stop event carries the
// assembled response.
func (p *AnthropicProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	events := make(chan llm.StreamEvent)
	go func() {
		defer close(events)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := withRetries(ctx, p.maxRetries, p.retryDelay, func() error {
			stream = p.client.Messages.NewStreaming(ctx, *params)
			if streamErr := stream.Err(); streamErr != nil {
				stream.Close()
				return p.wrapError(streamErr)
			}
			return nil
		})
		if err != nil {
			observability.ModelRequests.WithLabelValues("anthropic", "error").Inc()
			events <- llm.StreamEvent{Err: err}
			return
		}
		defer stream.Close()
		p.processStream(stream, events)
	}()
	return events, nil
}

func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- llm.StreamEvent) {
	var (
		blocks     []models.ContentBlock
		toolInput  strings.Builder
		stopReason string
		usage      llm.Usage
	)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.InputTokens = int(start.Message.Usage.InputTokens)
			events <- llm.StreamEvent{Type: llm.EventMessageStart}

		case "content_block_start":
			start := event.AsContentBlockStart()
			var block models.ContentBlock
			switch start.ContentBlock.Type {
			case "tool_use":
				toolUse := start.ContentBlock.AsToolUse()
				block = models.ContentBlock{Type: models.BlockToolUse, ID: toolUse.ID, Name: toolUse.Name}
				toolInput.Reset()
			default:
				block = models.ContentBlock{Type: models.BlockText}
			}
			blocks = append(blocks, block)
			emitted := block
			events <- llm.StreamEvent{
				Type:  llm.EventContentBlockStart,
				Index: len(blocks) - 1,
				Block: &emitted,
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" || len(blocks) == 0 {
					continue
				}
				blocks[len(blocks)-1].Text += delta.Text
				events <- llm.StreamEvent{
					Type:  llm.EventContentBlockDelta,
					Index: len(blocks) - 1,
					Delta: delta.Text,
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if len(blocks) == 0 {
				continue
			}
			last := &blocks[len(blocks)-1]
			if last.Type == models.BlockToolUse {
				input := map[string]any{}
				if raw := toolInput.String(); raw != "" {
					if err := json.Unmarshal([]byte(raw), &input); err != nil {
						events <- llm.StreamEvent{Err: fmt.Errorf("anthropic: invalid tool input for %s: %w", last.Name, err)}
						return
					}
				}
				last.Input = input
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Delta.StopReason != "" {
				stopReason = string(delta.Delta.StopReason)
			}
			if delta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(delta.Usage.OutputTokens)
			}

		case "message_stop":
			observability.ModelRequests.WithLabelValues("anthropic", "ok").Inc()
			events <- llm.StreamEvent{
				Type: llm.EventMessageStop,
				Response: &llm.CompletionResponse{
					Content:    blocks,
					StopReason: stopReason,
					Usage:      usage,
				},
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		observability.ModelRequests.WithLabelValues("anthropic", "error").Inc()
		events <- llm.StreamEvent{Err: p.wrapError(err)}
	}
}

func (p *AnthropicProvider) buildParams(req *llm.CompletionRequest) (*anthropic.MessageNewParams, error) {
	messages, system, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if req.System != "" {
		system = append([]string{req.System}, system...)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: strings.Join(system, "\n\n")}}
	}
	if len(req.Tools) > 0 {
		converted, err := convertTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = converted
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return &params, nil
}

// convertMessages maps port messages to SDK params. System-role messages are
// lifted out and returned separately; tool-role messages become user messages
// carrying tool_result blocks.
func convertMessages(messages []llm.Message) ([]anthropic.MessageParam, []string, error) {
	var (
		result []anthropic.MessageParam
		system []string
	)
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Text())
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if len(msg.Blocks) == 0 {
			if msg.Content == "" {
				continue
			}
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, block := range msg.Blocks {
			switch block.Type {
			case models.BlockText:
				content = append(content, anthropic.NewTextBlock(block.Text))
			case models.BlockToolUse:
				content = append(content, anthropic.NewToolUseBlock(block.ID, block.Input, block.Name))
			case models.BlockToolResult:
				content = append(content, anthropic.NewToolResultBlock(block.ToolUseID, block.Content, block.IsError))
			default:
				return nil, nil, fmt.Errorf("anthropic: unsupported content block type %q", block.Type)
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, system, nil
}

func convertTools(defs []tools.ModelTool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("anthropic: marshal schema for %s: %w", def.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("anthropic: invalid schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic: invalid tool definition for %s", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}

func translateMessage(msg *anthropic.Message) (*llm.CompletionResponse, error) {
	resp := &llm.CompletionResponse{
		StopReason: string(msg.StopReason),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, models.TextBlock(block.Text))
		case "tool_use":
			input := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: invalid tool input for %s: %w", block.Name, err)
				}
			}
			resp.Content = append(resp.Content, models.ToolUseBlock(block.ID, block.Name, input))
		}
	}
	return resp, nil
}

func (p *AnthropicProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	kind := llm.ErrUnknown
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			kind = llm.ErrRateLimit
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			kind = llm.ErrAuth
		case apiErr.StatusCode == 400 || apiErr.StatusCode == 404 || apiErr.StatusCode == 422:
			kind = llm.ErrBadInput
		case apiErr.StatusCode >= 500:
			kind = llm.ErrServer
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = llm.ErrTimeout
	} else if msg := err.Error(); strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") {
		kind = llm.ErrNetwork
	}

	return &llm.ProviderError{Provider: "anthropic", Kind: kind, Err: err}
}
