package agent

import (
	"context"
	"fmt"

	"github.com/ensembleai/ensemble/pkg/models"
)

// Decision resolves one pending approval on resume. Rejection is not a
// fatal error: the rejected call is recorded as a synthetic error result and
// fed back to the model as information.
type Decision struct {
	CallID  string `json:"call_id"`
	Approve bool   `json:"approve"`
	Reason  string `json:"reason,omitempty"`
}

// classifyApprovals evaluates the approval predicate of every tool call in
// the turn, in request order. Calls whose tool implements ApprovalGate with
// a true predicate become pending approvals; everything else dispatches
// normally. A tool without a predicate never requires approval.
func classifyApprovals(ctx context.Context, a *Agent, calls []models.ToolCall) []PendingApproval {
	var pending []PendingApproval
	reg := a.registry()
	for _, call := range calls {
		tool, ok := reg.Get(call.Name)
		if !ok {
			// Unknown tools fail at dispatch as error results; approval does
			// not apply.
			continue
		}
		gate, ok := tool.(ApprovalGate)
		if !ok {
			continue
		}
		if gate.RequiresApproval(ctx, call.Input, call.ID) {
			pending = append(pending, PendingApproval{
				CallID:          call.ID,
				ToolName:        call.Name,
				Args:            call.Input,
				RequestingAgent: a.Name,
			})
		}
	}
	return pending
}

// resolveDecisions validates the caller's decisions against the pending set
// and returns the synthetic error results for rejected calls, keyed by call
// ID. Every pending approval must have exactly one decision.
func resolveDecisions(pending []PendingApproval, decisions []Decision) (map[string]models.ToolResult, error) {
	byID := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		byID[d.CallID] = d
	}

	rejected := make(map[string]models.ToolResult)
	for _, p := range pending {
		d, ok := byID[p.CallID]
		if !ok {
			return nil, fmt.Errorf("%w: call %s (%s)", ErrUnresolvedApproval, p.CallID, p.ToolName)
		}
		if d.Approve {
			continue
		}
		reason := d.Reason
		if reason == "" {
			reason = "no reason given"
		}
		rejected[p.CallID] = models.ToolResult{
			ToolCallID: p.CallID,
			Content:    "rejected: " + reason,
			IsError:    true,
		}
	}
	return rejected, nil
}
