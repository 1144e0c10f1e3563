package providers

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/driftlabs/driftwood/internal/llm"
	"github.com/driftlabs/driftwood/internal/tools"
	"github.com/driftlabs/driftwood/pkg/models"
)

func TestConvertChatMessagesSystemLift(t *testing.T) {
	messages := []llm.Message{
		{Role: models.RoleSystem, Content: "memory block"},
		{Role: models.RoleUser, Content: "hello"},
	}

	result, err := convertChatMessages(messages, "persona")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("result = %d messages, want 3", len(result))
	}
	if result[0].Role != openai.ChatMessageRoleSystem || result[0].Content != "persona" {
		t.Errorf("result[0] = %+v", result[0])
	}
	if result[1].Role != openai.ChatMessageRoleSystem || result[1].Content != "memory block" {
		t.Errorf("result[1] = %+v", result[1])
	}
	if result[2].Role != openai.ChatMessageRoleUser || result[2].Content != "hello" {
		t.Errorf("result[2] = %+v", result[2])
	}
}

func TestConvertChatMessagesToolFlattening(t *testing.T) {
	messages := []llm.Message{
		{Role: models.RoleAssistant, Blocks: []models.ContentBlock{
			models.TextBlock("calling a tool"),
			models.ToolUseBlock("t1", "echo", map[string]any{"message": "hi"}),
		}},
		{Role: models.RoleTool, Blocks: []models.ContentBlock{
			models.ToolResultBlock("t1", "echo: hi", false),
		}},
	}

	result, err := convertChatMessages(messages, "")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("result = %d messages, want 2", len(result))
	}

	assistant := result[0]
	if assistant.Role != openai.ChatMessageRoleAssistant || assistant.Content != "calling a tool" {
		t.Errorf("assistant = %+v", assistant)
	}
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", assistant.ToolCalls)
	}
	call := assistant.ToolCalls[0]
	if call.ID != "t1" || call.Function.Name != "echo" {
		t.Errorf("call = %+v", call)
	}
	if call.Function.Arguments != `{"message":"hi"}` {
		t.Errorf("arguments = %q", call.Function.Arguments)
	}

	toolMsg := result[1]
	if toolMsg.Role != openai.ChatMessageRoleTool || toolMsg.ToolCallID != "t1" || toolMsg.Content != "echo: hi" {
		t.Errorf("tool message = %+v", toolMsg)
	}
}

func TestMapChatRole(t *testing.T) {
	tests := []struct {
		role models.Role
		want string
	}{
		{models.RoleUser, openai.ChatMessageRoleUser},
		{models.RoleAssistant, openai.ChatMessageRoleAssistant},
		{models.RoleTool, openai.ChatMessageRoleTool},
		{models.Role("other"), openai.ChatMessageRoleUser},
	}
	for _, tt := range tests {
		if got := mapChatRole(tt.role); got != tt.want {
			t.Errorf("mapChatRole(%q) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestMapFinishReason(t *testing.T) {
	tests := []struct {
		reason       openai.FinishReason
		hasToolCalls bool
		want         string
	}{
		{openai.FinishReasonStop, false, llm.StopEndTurn},
		{openai.FinishReasonStop, true, llm.StopToolUse},
		{openai.FinishReasonToolCalls, false, llm.StopToolUse},
		{openai.FinishReasonFunctionCall, false, llm.StopToolUse},
		{openai.FinishReasonLength, false, llm.StopMaxTokens},
		{openai.FinishReason(""), false, llm.StopEndTurn},
		{openai.FinishReason(""), true, llm.StopToolUse},
	}
	for _, tt := range tests {
		if got := mapFinishReason(tt.reason, tt.hasToolCalls); got != tt.want {
			t.Errorf("mapFinishReason(%q, %v) = %q, want %q", tt.reason, tt.hasToolCalls, got, tt.want)
		}
	}
}

func TestTranslateChatResponse(t *testing.T) {
	resp := &openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "let me check",
				ToolCalls: []openai.ToolCall{{
					ID:   "t1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "echo",
						Arguments: `{"message":"hi"}`,
					},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
		Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 7},
	}

	translated, err := translateChatResponse(resp)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if translated.StopReason != llm.StopToolUse {
		t.Errorf("stop reason = %q", translated.StopReason)
	}
	if len(translated.Content) != 2 {
		t.Fatalf("content = %+v", translated.Content)
	}
	if translated.Content[0].Text != "let me check" {
		t.Errorf("text = %+v", translated.Content[0])
	}
	use := translated.Content[1]
	if use.ID != "t1" || use.Name != "echo" || use.Input["message"] != "hi" {
		t.Errorf("tool_use = %+v", use)
	}
	if translated.Usage.InputTokens != 12 || translated.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v", translated.Usage)
	}
}

func TestTranslateChatResponseNoChoices(t *testing.T) {
	_, err := translateChatResponse(&openai.ChatCompletionResponse{})
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.Kind != llm.ErrServer {
		t.Errorf("err = %v", err)
	}
}

func TestBuildRequest(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"}, nil)

	temp := 0.2
	req, err := p.buildRequest(&llm.CompletionRequest{
		Messages:    []llm.Message{{Role: models.RoleUser, Content: "hello"}},
		Temperature: &temp,
		Tools: []tools.ModelTool{{
			Name:        "echo",
			Description: "Echo a message",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if req.Model != openai.GPT4o {
		t.Errorf("model = %q", req.Model)
	}
	if req.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d", req.MaxTokens)
	}
	if req.Temperature != 0.2 {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if len(req.Tools) != 1 || req.Tools[0].Function.Name != "echo" {
		t.Errorf("tools = %+v", req.Tools)
	}
}

func TestWrapOpenAIError(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key"}, nil)

	tests := []struct {
		name string
		err  error
		want llm.ErrorKind
	}{
		{"rate limit", &openai.APIError{HTTPStatusCode: 429}, llm.ErrRateLimit},
		{"auth", &openai.APIError{HTTPStatusCode: 401}, llm.ErrAuth},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, llm.ErrBadInput},
		{"server", &openai.APIError{HTTPStatusCode: 500}, llm.ErrServer},
		{"deadline", context.DeadlineExceeded, llm.ErrTimeout},
		{"network", errors.New("dial tcp: no such host"), llm.ErrNetwork},
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
			if pe.Provider != "openai" {
				t.Errorf("provider = %q", pe.Provider)
			}
		})
	}
}
