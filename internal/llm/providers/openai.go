package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/driftlabs/driftwood/internal/llm"
	"github.com/driftlabs/driftwood/internal/observability"
	"github.com/driftlabs/driftwood/pkg/models"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
	RetryDelay time.Duration
}

// OpenAIProvider adapts the go-openai chat completion API to the
// llm.Provider port. Tool calls are translated to tool_use content blocks so
// callers see one response shape regardless of backend.
type OpenAIProvider struct {
	client     *openai.Client
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewOpenAIProvider creates an adapter from config, applying defaults for
// model, retries, and backoff.
func NewOpenAIProvider(cfg OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
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

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     logger.With("provider", "openai"),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete performs one blocking round trip with retries on transient
// failures.
func (p *OpenAIProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp openai.ChatCompletionResponse
	err = withRetries(ctx, p.maxRetries, p.retryDelay, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, *chatReq)
		if callErr != nil {
			return p.wrapError(callErr)
		}
		return nil
	})
	if err != nil {
		observability.ModelRequests.WithLabelValues("openai", "error").Inc()
		return nil, err
	}

	translated, err := translateChatResponse(&resp)
	if err != nil {
		observability.ModelRequests.WithLabelValues("openai", "error").Inc()
		return nil, err
	}
	observability.ModelRequests.WithLabelValues("openai", "ok").Inc()
	return translated, nil
}

// Stream yields incremental events; the final message_stop event carries the
// assembled response.
func (p *OpenAIProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
	chatReq, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	events := make(chan llm.StreamEvent)
	go func() {
		defer close(events)

		var stream *openai.ChatCompletionStream
		err := withRetries(ctx, p.maxRetries, p.retryDelay, func() error {
			var callErr error
			stream, callErr = p.client.CreateChatCompletionStream(ctx, *chatReq)
			if callErr != nil {
				return p.wrapError(callErr)
			}
			return nil
		})
		if err != nil {
			observability.ModelRequests.WithLabelValues("openai", "error").Inc()
			events <- llm.StreamEvent{Err: err}
			return
		}
		defer stream.Close()
		p.processStream(stream, events)
	}()
	return events, nil
}

// streamToolCall accumulates one tool call's name and argument fragments
// across delta chunks.
type streamToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, events chan<- llm.StreamEvent) {
	var (
		text       strings.Builder
		toolCalls  []*streamToolCall
		finish     openai.FinishReason
		textOpen   bool
		blockIndex int
	)

	events <- llm.StreamEvent{Type: llm.EventMessageStart}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.ModelRequests.WithLabelValues("openai", "error").Inc()
			events <- llm.StreamEvent{Err: p.wrapError(err)}
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			if !textOpen {
				textOpen = true
				block := models.ContentBlock{Type: models.BlockText}
				events <- llm.StreamEvent{Type: llm.EventContentBlockStart, Index: blockIndex, Block: &block}
			}
			text.WriteString(choice.Delta.Content)
			events <- llm.StreamEvent{
				Type:  llm.EventContentBlockDelta,
				Index: blockIndex,
				Delta: choice.Delta.Content,
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := len(toolCalls) - 1
			if tc.Index != nil {
				idx = *tc.Index
			}
			for idx >= len(toolCalls) {
				toolCalls = append(toolCalls, &streamToolCall{})
			}
			if idx < 0 {
				continue
			}
			call := toolCalls[idx]
			if tc.ID != "" {
				call.id = tc.ID
			}
			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}
			call.args.WriteString(tc.Function.Arguments)
		}
	}

	var blocks []models.ContentBlock
	if text.Len() > 0 {
		blocks = append(blocks, models.TextBlock(text.String()))
	}
	for _, call := range toolCalls {
		input := map[string]any{}
		if raw := call.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				events <- llm.StreamEvent{Err: fmt.Errorf("openai: invalid tool arguments for %s: %w", call.name, err)}
				return
			}
		}
		blocks = append(blocks, models.ToolUseBlock(call.id, call.name, input))
	}

	observability.ModelRequests.WithLabelValues("openai", "ok").Inc()
	events <- llm.StreamEvent{
		Type: llm.EventMessageStop,
		Response: &llm.CompletionResponse{
			Content:    blocks,
			StopReason: mapFinishReason(finish, len(toolCalls) > 0),
		},
	}
}

func (p *OpenAIProvider) buildRequest(req *llm.CompletionRequest) (*openai.ChatCompletionRequest, error) {
	messages, err := convertChatMessages(req.Messages, req.System)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
	}
	for _, def := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return &chatReq, nil
}

// convertChatMessages flattens block-structured messages into the chat
// completion shapes: tool_use blocks become assistant tool calls and
// tool_result blocks become tool-role messages.
func convertChatMessages(messages []llm.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text(),
			})
			continue
		}
		if len(msg.Blocks) == 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:    mapChatRole(msg.Role),
				Content: msg.Content,
			})
			continue
		}

		var (
			textParts   []string
			toolCalls   []openai.ToolCall
			toolResults []openai.ChatCompletionMessage
		)
		for _, block := range msg.Blocks {
			switch block.Type {
			case models.BlockText:
				textParts = append(textParts, block.Text)
			case models.BlockToolUse:
				args, err := json.Marshal(block.Input)
				if err != nil {
					return nil, fmt.Errorf("openai: marshal tool input for %s: %w", block.Name, err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   block.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.Name,
						Arguments: string(args),
					},
				})
			case models.BlockToolResult:
				toolResults = append(toolResults, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    block.Content,
					ToolCallID: block.ToolUseID,
				})
			default:
				return nil, fmt.Errorf("openai: unsupported content block type %q", block.Type)
			}
		}

		if len(textParts) > 0 || len(toolCalls) > 0 {
			result = append(result, openai.ChatCompletionMessage{
				Role:      mapChatRole(msg.Role),
				Content:   strings.Join(textParts, "\n"),
				ToolCalls: toolCalls,
			})
		}
		result = append(result, toolResults...)
	}
	return result, nil
}

func mapChatRole(role models.Role) string {
	switch role {
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case models.RoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func translateChatResponse(resp *openai.ChatCompletionResponse) (*llm.CompletionResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, &llm.ProviderError{Provider: "openai", Kind: llm.ErrServer, Message: "response has no choices"}
	}
	choice := resp.Choices[0]

	out := &llm.CompletionResponse{
		StopReason: mapFinishReason(choice.FinishReason, len(choice.Message.ToolCalls) > 0),
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		out.Content = append(out.Content, models.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("openai: invalid tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		out.Content = append(out.Content, models.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	return out, nil
}

func mapFinishReason(reason openai.FinishReason, hasToolCalls bool) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.StopToolUse
	case openai.FinishReasonLength:
		return llm.StopMaxTokens
	case openai.FinishReasonStop:
		if hasToolCalls {
			return llm.StopToolUse
		}
		return llm.StopEndTurn
	default:
		if hasToolCalls {
			return llm.StopToolUse
		}
		return llm.StopEndTurn
	}
}

func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		return err
	}

	kind := llm.ErrUnknown
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			kind = llm.ErrRateLimit
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			kind = llm.ErrAuth
		case apiErr.HTTPStatusCode == 400 || apiErr.HTTPStatusCode == 404 || apiErr.HTTPStatusCode == 422:
			kind = llm.ErrBadInput
		case apiErr.HTTPStatusCode >= 500:
			kind = llm.ErrServer
		}
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = llm.ErrTimeout
	} else if msg := err.Error(); strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") {
		kind = llm.ErrNetwork
	}

	return &llm.ProviderError{Provider: "openai", Kind: kind, Err: err}
}
