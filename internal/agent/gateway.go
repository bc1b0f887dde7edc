package agent

import (
	"context"
	"encoding/json"

	"github.com/ensembleai/ensemble/pkg/models"
)

// ModelGateway is the narrow interface the engine uses to invoke a language
// model. The core is agnostic to which underlying provider answers the call.
//
// Implementations must be safe for concurrent use; independent runs may call
// Invoke simultaneously. Retry policy belongs to the adapter; the core never
// retries a failed invocation.
type ModelGateway interface {
	// Invoke sends the conversation and tool schemas to the model and returns
	// its text and/or requested tool calls plus token usage.
	Invoke(ctx context.Context, req *ModelRequest) (*ModelResponse, error)

	// Name returns the gateway name for logging and metrics.
	Name() string
}

// ModelRequest contains everything the model needs for one turn.
type ModelRequest struct {
	// Instructions is the resolved system prompt of the active agent.
	Instructions string `json:"instructions"`

	// Messages is the conversation history in chronological order.
	Messages []models.Message `json:"messages"`

	// Tools describes the tools the model may request.
	Tools []ToolSchema `json:"tools,omitempty"`

	// OutputSchema, when set, asks the model for JSON conforming to it.
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// ModelResponse is the model's answer for one turn: text, requested tool
// calls, or both, plus token usage.
type ModelResponse struct {
	Text      string            `json:"text,omitempty"`
	ToolCalls []models.ToolCall `json:"tool_calls,omitempty"`
	Usage     models.Usage      `json:"usage"`
}

// ToolSchema describes one tool to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}
