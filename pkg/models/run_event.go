package models

import "time"

// RunEventType defines the types of run lifecycle events.
type RunEventType string

const (
	// EventRunStarted indicates a run has begun.
	EventRunStarted RunEventType = "run_started"

	// EventAgentStarted indicates an agent has taken over the run.
	EventAgentStarted RunEventType = "agent_started"

	// EventAgentEnded indicates an agent's turn at the run has ended.
	EventAgentEnded RunEventType = "agent_ended"

	// EventModelCall indicates a model gateway invocation.
	EventModelCall RunEventType = "model_call"

	// EventToolCallStarted indicates a tool call has begun executing.
	EventToolCallStarted RunEventType = "tool_call_started"

	// EventToolCallEnded indicates a tool call has settled.
	EventToolCallEnded RunEventType = "tool_call_ended"

	// EventTransfer indicates the run was delegated to another agent.
	EventTransfer RunEventType = "transfer"

	// EventGuardrailResult indicates a guardrail validation outcome.
	EventGuardrailResult RunEventType = "guardrail_result"

	// EventApprovalRequested indicates a tool call is awaiting human sign-off.
	EventApprovalRequested RunEventType = "approval_requested"

	// EventApprovalResolved indicates a pending approval was decided.
	EventApprovalResolved RunEventType = "approval_resolved"

	// EventRunEnded indicates the run reached a terminal state.
	EventRunEnded RunEventType = "run_ended"
)

// RunEvent is one entry in the structured event stream the engine emits.
// Collectors subscribe through the engine's EventSink interface; the engine
// does not depend on any particular sink.
type RunEvent struct {
	Type       RunEventType   `json:"type"`
	RunID      string         `json:"run_id"`
	Agent      string         `json:"agent,omitempty"`
	Step       int            `json:"step,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
	At         time.Time      `json:"at"`
}

// WithMeta adds metadata to the event and returns it for chaining.
func (e *RunEvent) WithMeta(key string, value any) *RunEvent {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}
