package agent

import (
	"context"
	"encoding/json"

	"github.com/ensembleai/ensemble/pkg/models"
)

// Tool defines the interface for executable agent tools.
//
// Tools must not assume serialized invocation: all tool calls requested in
// one model turn execute concurrently. Tools that must not run concurrently
// should serialize internally or be modeled as a single combined tool.
type Tool interface {
	// Name returns the tool name for model function calling.
	Name() string

	// Description returns a natural language description of what the tool does.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters. Arguments
	// are validated against it before dispatch.
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters. The run's opaque
	// caller context is available via RunContextFromContext. Errors are
	// surfaced to the model as error results, never as run failures.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ApprovalGate is implemented by tools whose execution requires human
// sign-off. The predicate must be a pure function of the run context,
// arguments, and call ID; when it returns true the run suspends before
// the tool executes.
type ApprovalGate interface {
	RequiresApproval(ctx context.Context, params json.RawMessage, callID string) bool
}

// ToolResult contains the output from a tool execution. A non-nil Handoff
// requests delegation of the run to another agent.
type ToolResult struct {
	// Content is the tool's output (text, JSON, etc.)
	Content string `json:"content"`

	// IsError indicates this result represents an error condition
	IsError bool `json:"is_error,omitempty"`

	// Handoff is the transfer sentinel; see HandoffTool.
	Handoff *models.HandoffRequest `json:"handoff,omitempty"`
}

// FuncTool adapts plain functions into the Tool interface. It is the
// simplest way to bind a tool to an agent.
type FuncTool struct {
	// ToolName is the function-calling name.
	ToolName string

	// ToolDescription helps the model decide when to use the tool.
	ToolDescription string

	// InputSchema is the JSON Schema for the tool's parameters.
	InputSchema json.RawMessage

	// Run is the execute function.
	Run func(ctx context.Context, params json.RawMessage) (*ToolResult, error)

	// Approval, when set, gates execution behind human sign-off.
	Approval func(ctx context.Context, params json.RawMessage, callID string) bool
}

// Name implements Tool.
func (t *FuncTool) Name() string { return t.ToolName }

// Description implements Tool.
func (t *FuncTool) Description() string { return t.ToolDescription }

// Schema implements Tool.
func (t *FuncTool) Schema() json.RawMessage { return t.InputSchema }

// Execute implements Tool.
func (t *FuncTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if t.Run == nil {
		return &ToolResult{Content: "tool has no implementation: " + t.ToolName, IsError: true}, nil
	}
	return t.Run(ctx, params)
}

// RequiresApproval implements ApprovalGate.
func (t *FuncTool) RequiresApproval(ctx context.Context, params json.RawMessage, callID string) bool {
	if t.Approval == nil {
		return false
	}
	return t.Approval(ctx, params, callID)
}

type runContextKey struct{}

// WithRunContext attaches the run's opaque caller-supplied context value.
// The engine passes it unchanged to every tool execution, approval
// predicate, and instruction resolution.
func WithRunContext(ctx context.Context, rc any) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextFromContext reads the opaque run context attached by the engine.
func RunContextFromContext(ctx context.Context) any {
	return ctx.Value(runContextKey{})
}
