package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/driftlabs/driftwood/internal/llm"
	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/pkg/models"
)

func TestConvertMessagesLiftsSystem(t *testing.T) {
	messages := []llm.Message{
		{Role: models.RoleSystem, Content: "memory block one"},
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleSystem, Content: "memory block two"},
	}

	result, system, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("result = %d messages, want 1", len(result))
	}
	if result[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("role = %v", result[0].Role)
	}
	if len(system) != 2 || system[0] != "memory block one" || system[1] != "memory block two" {
		t.Errorf("system = %v", system)
	}
}

func TestConvertMessagesBlocks(t *testing.T) {
	messages := []llm.Message{
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			models.TextBlock("calling a tool"),
			models.ToolUseBlock("t1", "echo", map[string]any{"message": "hi"}),
		}},
		{Role: models.RoleTool, Blocks: []models.ContentBlock{
			models.ToolResultBlock("t1", "echo: hi", false),
		}},
	}

	result, _, err := convertMessages(messages)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("result = %d messages, want 2", len(result))
	}
	if result[0].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("first role = %v", result[0].Role)
	}
	if len(result[0].Content) != 2 {
		t.Errorf("assistant content = %d blocks, want 2", len(result[0].Content))
	}
	// Tool results ride on a user-role message.
	if result[1].Role != anthropic.MessageParamRoleUser {
		t.Errorf("second role = %v", result[1].Role)
	}
}

func TestConvertMessagesSkipsEmpty(t *testing.T) {
	result, _, err := convertMessages([]llm.Message{
		{Role: models.RoleUser, Content: ""},
		{Role: models.RoleUser, Content: "real"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("result = %d messages, want 1", len(result))
	}
}

func TestConvertMessagesUnsupportedBlock(t *testing.T) {
	_, _, err := convertMessages([]llm.Message{
		{Role: models.RoleUser, Blocks: []models.ContentBlock{{Type: "thinking"}}},
	})
	if err == nil || !strings.Contains(err.Error(), "unsupported content block") {
		t.Errorf("err = %v", err)
	}
}

func TestConvertTools(t *testing.T) {
	defs := []tools.ModelTool{{
		Name:        "echo",
		Description: "Echo a message",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"message"},
		},
	}}

	converted, err := convertTools(defs)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(converted) != 1 || converted[0].OfTool == nil {
		t.Fatalf("converted = %+v", converted)
	}
	if converted[0].OfTool.Name != "echo" {
		t.Errorf("name = %q", converted[0].OfTool.Name)
	}
}

func TestTranslateMessage(t *testing.T) {
	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "let me check"},
			{Type: "tool_use", ID: "t1", Name: "echo", Input: json.RawMessage(`{"message":"hi"}`)},
		},
		StopReason: "tool_use",
		Usage:      anthropic.Usage{InputTokens: 12, OutputTokens: 7},
	}

	resp, err := translateMessage(msg)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.StopReason != llm.StopToolUse {
		t.Errorf("stop reason = %q", resp.StopReason)
	}
	if len(resp.Content) != 2 {
		t.Fatalf("content = %+v", resp.Content)
	}
	if resp.Content[0].Type != models.BlockText || resp.Content[0].Text != "let me check" {
		t.Errorf("text block = %+v", resp.Content[0])
	}
	use := resp.Content[1]
	if use.Type != models.BlockToolUse || use.ID != "t1" || use.Name != "echo" {
		t.Errorf("tool_use block = %+v", use)
	}
	if use.Input["message"] != "hi" {
		t.Errorf("input = %v", use.Input)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestTranslateMessageInvalidToolInput(t *testing.T) {
	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: "t1", Name: "echo", Input: json.RawMessage(`{broken`)},
		},
	}
	if _, err := translateMessage(msg); err == nil {
		t.Fatal("expected error")
	}
}

func TestBuildParams(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", Model: "claude-sonnet-4-20250514"}, nil)

	params, err := p.buildParams(&llm.CompletionRequest{
		System: "persona",
		Messages: []llm.Message{
			{Role: models.RoleSystem, Content: "memory block"},
			{Role: models.RoleUser, Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if string(params.Model) != "claude-sonnet-4-20250514" {
		t.Errorf("model = %q", params.Model)
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d", params.MaxTokens)
	}
	if len(params.System) != 1 {
		t.Fatalf("system = %+v", params.System)
	}
	joined := params.System[0].Text
	if !strings.HasPrefix(joined, "persona") || !strings.Contains(joined, "memory block") {
		t.Errorf("system text = %q", joined)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(params.Messages))
	}
}

func TestStreamRetriesTransientOpenFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	p := NewAnthropicProvider(AnthropicConfig{
		APIKey:     "test-key",
		BaseURL:    srv.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	}, nil)

	events, err := p.Stream(context.Background(), &llm.CompletionRequest{
		Messages: []llm.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var last llm.StreamEvent
	for ev := range events {
		last = ev
	}
	if last.Err == nil {
		t.Fatal("expected an error event")
	}
	var pe *llm.ProviderError
	if !errors.As(last.Err, &pe) || pe.Kind != llm.ErrRateLimit {
		t.Errorf("err = %v", last.Err)
	}
	// Each attempt opens a fresh stream; the failed ones are closed before
	// the next try.
	if got := hits.Load(); got != 3 {
		t.Errorf("requests = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestWrapAnthropicError(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"}, nil)

	tests := []struct {
		name string
		err  error
		want llm.ErrorKind
	}{
		{"rate limit", &anthropic.Error{StatusCode: 429}, llm.ErrRateLimit},
		{"auth", &anthropic.Error{StatusCode: 401}, llm.ErrAuth},
		{"forbidden", &anthropic.Error{StatusCode: 403}, llm.ErrAuth},
		{"bad request", &anthropic.Error{StatusCode: 400}, llm.ErrBadInput},
		{"server", &anthropic.Error{StatusCode: 503}, llm.ErrServer},
		{"deadline", context.DeadlineExceeded, llm.ErrTimeout},
		{"network", errors.New("dial tcp: connection refused"), llm.ErrNetwork},
		{"unknown", errors.New("something odd"), llm.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := p.wrapError(tt.err)
			var pe *llm.ProviderError
			if !errors.As(wrapped, &pe) {
				t.Fatalf("wrapped = %T", wrapped)
			}
			if pe.Kind != tt.want {
				t.Errorf("kind = %q, want %q", pe.Kind, tt.want)
			}
			if pe.Provider != "anthropic" {
				t.Errorf("provider = %q", pe.Provider)
			}
		})
	}

	already := &llm.ProviderError{Provider: "anthropic", Kind: llm.ErrRateLimit}
	if got := p.wrapError(already); got != already {
		t.Errorf("double-wrapped: %v", got)
	}
}
