package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ensembleai/ensemble/pkg/models"
)

// RunStatus captures coarse execution state.
type RunStatus string

const (
	StatusRunning          RunStatus = "running"
	StatusAwaitingApproval RunStatus = "awaiting_approval"
	StatusFinalOutput      RunStatus = "final_output"
	StatusFailed           RunStatus = "failed"
)

// Terminal reports whether no further mutation of the run state may occur.
func (s RunStatus) Terminal() bool {
	return s == StatusFinalOutput || s == StatusFailed
}

// AgentMetrics accumulates per-agent counters for one run. Metrics are never
// reset and survive transfers even when message history does not.
type AgentMetrics struct {
	TurnsTaken    int `json:"turns_taken"`
	TokensIn      int `json:"tokens_in"`
	TokensOut     int `json:"tokens_out"`
	ToolCallCount int `json:"tool_call_count"`
}

// PendingApproval is one tool call awaiting a human decision.
type PendingApproval struct {
	CallID          string          `json:"call_id"`
	ToolName        string          `json:"tool_name"`
	Args            json.RawMessage `json:"args"`
	RequestingAgent string          `json:"requesting_agent"`
}

// RunState is the single mutable record of one workflow execution. Exactly
// one goroutine mutates a given RunState at a time by construction: the
// dispatch barrier merges tool results serially after all calls settle.
type RunState struct {
	RunID         string                   `json:"run_id"`
	Status        RunStatus                `json:"status"`
	Messages      []models.Message         `json:"messages"`
	ActiveAgent   string                   `json:"active_agent"`
	StepNumber    int                      `json:"step_number"`
	StepLimit     int                      `json:"step_limit"`
	AgentMetrics  map[string]*AgentMetrics `json:"agent_metrics"`
	TransferChain []string                 `json:"transfer_chain"`
	Pending       []PendingApproval        `json:"pending_approvals,omitempty"`
	OriginalInput string                   `json:"original_input"`

	// PendingCalls holds the full tool-call set of a suspended turn so resume
	// re-enters at the dispatch sub-step.
	PendingCalls []models.ToolCall `json:"pending_calls,omitempty"`

	// Context is the opaque caller-supplied value passed unchanged to every
	// tool and instruction-resolution call. Not serialized; callers re-supply
	// it when resuming on another process.
	Context any `json:"-"`

	// GuardrailFailures tracks consecutive failures per output check for the
	// directive/retry budget.
	GuardrailFailures map[string]int `json:"guardrail_failures,omitempty"`

	agent *Agent
}

// newRunState creates the state for a fresh run.
func newRunState(a *Agent, input string, runContext any) *RunState {
	s := &RunState{
		RunID:             "run_" + uuid.NewString(),
		Status:            StatusRunning,
		ActiveAgent:       a.Name,
		StepLimit:         a.stepLimit(),
		AgentMetrics:      make(map[string]*AgentMetrics),
		GuardrailFailures: make(map[string]int),
		OriginalInput:     input,
		Context:           runContext,
		agent:             a,
	}
	s.appendMessage(models.Message{Role: models.RoleUser, Content: input})
	return s
}

// metricsFor returns the accumulator for the named agent, creating it on
// first use.
func (s *RunState) metricsFor(name string) *AgentMetrics {
	m, ok := s.AgentMetrics[name]
	if !ok {
		m = &AgentMetrics{}
		s.AgentMetrics[name] = m
	}
	return m
}

// appendMessage appends an immutable entry to the conversation log.
func (s *RunState) appendMessage(msg models.Message) {
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.Messages = append(s.Messages, msg)
}

// cloneMetrics returns a deep copy of the per-agent metrics for results.
func (s *RunState) cloneMetrics() map[string]AgentMetrics {
	out := make(map[string]AgentMetrics, len(s.AgentMetrics))
	for name, m := range s.AgentMetrics {
		out[name] = *m
	}
	return out
}

// Interruption is a serializable snapshot of a suspended run plus its
// pending approvals, sufficient to reconstruct execution on a different
// process once decisions are supplied.
type Interruption struct {
	RunID             string                   `json:"run_id"`
	ActiveAgent       string                   `json:"active_agent"`
	Messages          []models.Message         `json:"messages"`
	StepNumber        int                      `json:"step_number"`
	StepLimit         int                      `json:"step_limit"`
	AgentMetrics      map[string]*AgentMetrics `json:"agent_metrics"`
	TransferChain     []string                 `json:"transfer_chain"`
	Pending           []PendingApproval        `json:"pending_approvals"`
	PendingCalls      []models.ToolCall        `json:"pending_calls"`
	OriginalInput     string                   `json:"original_input"`
	GuardrailFailures map[string]int           `json:"guardrail_failures,omitempty"`
	CreatedAt         time.Time                `json:"created_at"`

	// context carries the live opaque run context for in-process resumption.
	// It does not survive serialization; cross-process resumers re-supply it
	// as the runContext argument to Resume.
	context any
}

// Encode serializes the interruption for transport or storage.
func (i *Interruption) Encode() ([]byte, error) {
	return json.Marshal(i)
}

// DecodeInterruption reconstructs an interruption from Encode output.
func DecodeInterruption(data []byte) (*Interruption, error) {
	var in Interruption
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode interruption: %w", err)
	}
	if len(in.Pending) == 0 {
		return nil, fmt.Errorf("decode interruption: no pending approvals")
	}
	return &in, nil
}

// snapshot captures the suspended run as an Interruption. Metrics are copied
// so resuming the same snapshot more than once never double-counts.
func (s *RunState) snapshot() *Interruption {
	metrics := make(map[string]*AgentMetrics, len(s.AgentMetrics))
	for name, m := range s.AgentMetrics {
		copied := *m
		metrics[name] = &copied
	}
	return &Interruption{
		RunID:             s.RunID,
		ActiveAgent:       s.ActiveAgent,
		Messages:          models.CloneMessages(s.Messages),
		StepNumber:        s.StepNumber,
		StepLimit:         s.StepLimit,
		AgentMetrics:      metrics,
		TransferChain:     append([]string(nil), s.TransferChain...),
		Pending:           append([]PendingApproval(nil), s.Pending...),
		PendingCalls:      append([]models.ToolCall(nil), s.PendingCalls...),
		OriginalInput:     s.OriginalInput,
		GuardrailFailures: s.GuardrailFailures,
		CreatedAt:         time.Now(),
		context:           s.Context,
	}
}

// restore rebuilds run state from an interruption, binding the active agent
// from the live agent graph rooted at root.
func restore(root *Agent, in *Interruption, runContext any) (*RunState, error) {
	if in == nil {
		return nil, fmt.Errorf("interruption is nil")
	}
	agents := collectByName(root)
	active, ok := agents[in.ActiveAgent]
	if !ok {
		return nil, fmt.Errorf("active agent %q not reachable from %q", in.ActiveAgent, root.Name)
	}
	if runContext == nil {
		runContext = in.context
	}
	metrics := make(map[string]*AgentMetrics, len(in.AgentMetrics))
	for name, m := range in.AgentMetrics {
		copied := *m
		metrics[name] = &copied
	}
	failures := in.GuardrailFailures
	if failures == nil {
		failures = make(map[string]int)
	}
	return &RunState{
		RunID:             in.RunID,
		Status:            StatusAwaitingApproval,
		Messages:          models.CloneMessages(in.Messages),
		ActiveAgent:       in.ActiveAgent,
		StepNumber:        in.StepNumber,
		StepLimit:         in.StepLimit,
		AgentMetrics:      metrics,
		TransferChain:     append([]string(nil), in.TransferChain...),
		Pending:           append([]PendingApproval(nil), in.Pending...),
		PendingCalls:      append([]models.ToolCall(nil), in.PendingCalls...),
		OriginalInput:     in.OriginalInput,
		GuardrailFailures: failures,
		Context:           runContext,
		agent:             active,
	}, nil
}
