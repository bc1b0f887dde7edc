package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single immutable entry in a run's conversation log.
// Entries are appended by the runner and never mutated in place.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCall represents a model's request to execute a tool.
// Results are matched back to calls by ID, never by position.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the outcome of a single tool execution.
// Errors are communicated via IsError rather than failing the turn, so
// the model can see and react to them.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Content    string          `json:"content"`
	IsError    bool            `json:"is_error,omitempty"`
	Handoff    *HandoffRequest `json:"handoff,omitempty"`
}

// HandoffRequest is the sentinel a tool result carries to delegate the run
// to another agent. The target must be one of the active agent's configured
// handoff targets.
type HandoffRequest struct {
	TargetAgent string `json:"target_agent"`
	Payload     string `json:"payload,omitempty"`
}

// Usage holds token counts reported by a model gateway for one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// CloneMessages copies a message slice. Entries themselves are treated as
// immutable by convention.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
