package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ensembleai/ensemble/internal/agent"
	"github.com/ensembleai/ensemble/pkg/models"
)

func TestScriptedGateway(t *testing.T) {
	gw := NewScriptedGateway(
		&agent.ModelResponse{Text: "first"},
		&agent.ModelResponse{Text: "second"},
	)

	resp, err := gw.Invoke(context.Background(), &agent.ModelRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "first" {
		t.Errorf("text = %q, want first", resp.Text)
	}

	if _, err := gw.Invoke(context.Background(), &agent.ModelRequest{}); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if _, err := gw.Invoke(context.Background(), &agent.ModelRequest{}); err == nil {
		t.Error("exhausted script should error")
	}
	if gw.Calls() != 3 {
		t.Errorf("calls = %d, want 3", gw.Calls())
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	req := &agent.ModelRequest{
		Instructions: "be helpful",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "hi"},
			{
				Role:    models.RoleAssistant,
				Content: "checking",
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
				},
			},
			{
				Role: models.RoleTool,
				ToolResults: []models.ToolResult{
					{ToolCallID: "call-1", Content: "found"},
					{ToolCallID: "call-2", Content: "also found"},
				},
			},
			{Role: models.RoleSystem, Content: "revise your answer"},
		},
	}

	got := convertOpenAIMessages(req)

	// system prompt + user + assistant + 2 tool results + directive
	if len(got) != 6 {
		t.Fatalf("len = %d, want 6", len(got))
	}
	if got[0].Role != openai.ChatMessageRoleSystem || got[0].Content != "be helpful" {
		t.Errorf("got[0] = %+v, want system instructions", got[0])
	}
	if got[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("got[2].Role = %q, want assistant", got[2].Role)
	}
	if len(got[2].ToolCalls) != 1 || got[2].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("assistant tool calls = %+v", got[2].ToolCalls)
	}
	if got[3].Role != openai.ChatMessageRoleTool || got[3].ToolCallID != "call-1" {
		t.Errorf("got[3] = %+v, want tool result for call-1", got[3])
	}
	if got[4].ToolCallID != "call-2" {
		t.Errorf("got[4].ToolCallID = %q, want call-2", got[4].ToolCallID)
	}
	if got[5].Role != openai.ChatMessageRoleSystem {
		t.Errorf("got[5].Role = %q, want system (directive)", got[5].Role)
	}
}

func TestConvertOpenAIResponse(t *testing.T) {
	resp := &openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "done",
				ToolCalls: []openai.ToolCall{{
					ID:   "call-1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "lookup",
						Arguments: `{"q":"x"}`,
					},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 7, CompletionTokens: 3},
	}

	got, err := convertOpenAIResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "done" {
		t.Errorf("text = %q, want done", got.Text)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "lookup" {
		t.Errorf("tool calls = %+v", got.ToolCalls)
	}
	if got.Usage.InputTokens != 7 || got.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v, want 7/3", got.Usage)
	}

	if _, err := convertOpenAIResponse(&openai.ChatCompletionResponse{}); err == nil {
		t.Error("empty choices accepted")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("429 too many requests"), true},
		{errors.New("rate_limit_error"), true},
		{errors.New("internal server error"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("request timeout"), true},
		{errors.New("401 unauthorized"), false},
		{errors.New("invalid request"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isRetryable(tt.err); got != tt.want {
			t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewGateways_RequireAPIKey(t *testing.T) {
	if _, err := NewAnthropicGateway(AnthropicConfig{}); err == nil {
		t.Error("anthropic gateway created without API key")
	}
	if _, err := NewOpenAIGateway(OpenAIConfig{}); err == nil {
		t.Error("openai gateway created without API key")
	}
}
