package agent

import (
	"fmt"

	"github.com/ensembleai/ensemble/pkg/models"
)

// transfer describes a resolved delegation detected in a turn's results.
type transfer struct {
	target  *Agent
	payload string
}

// detectTransfer scans the turn's results in request order for a handoff
// sentinel and resolves the target among the active agent's configured
// handoffs. An unknown target is a misconfiguration, not a silent no-op.
// When a turn carries several handoffs the first wins; the rest are
// rewritten into error results so the model sees what happened.
func detectTransfer(active *Agent, results []models.ToolResult) (*transfer, error) {
	var found *transfer
	for i := range results {
		req := results[i].Handoff
		if req == nil {
			continue
		}
		if found != nil {
			results[i] = models.ToolResult{
				ToolCallID: results[i].ToolCallID,
				Content: fmt.Sprintf("handoff to %s ignored: transfer to %s already in progress",
					req.TargetAgent, found.target.Name),
				IsError: true,
			}
			continue
		}
		target, ok := active.handoffTarget(req.TargetAgent)
		if !ok {
			return nil, NewRunError(RunErrorUnknownTransferTarget, nil).
				WithAgent(active.Name).
				WithMessage(fmt.Sprintf("agent %q is not a configured handoff target of %q", req.TargetAgent, active.Name))
		}
		found = &transfer{target: target, payload: req.Payload}
	}
	return found, nil
}

// applyTransfer swaps the active agent and rebuilds the message list. With
// isolation on (the default) the next agent sees only the original user goal
// and the transfer payload; prior tool calls, results, and assistant
// reasoning are dropped. Metrics accumulation is unaffected.
func applyTransfer(s *RunState, tr *transfer) {
	from := s.agent
	s.TransferChain = append(s.TransferChain, tr.target.Name)
	s.agent = tr.target
	s.ActiveAgent = tr.target.Name

	if from.KeepTranscriptOnHandoff {
		if tr.payload != "" {
			s.appendMessage(models.Message{Role: models.RoleUser, Content: tr.payload})
		}
		return
	}

	s.Messages = nil
	s.appendMessage(models.Message{Role: models.RoleUser, Content: s.OriginalInput})
	if tr.payload != "" {
		s.appendMessage(models.Message{
			Role:    models.RoleUser,
			Content: tr.payload,
			Metadata: map[string]any{
				"transfer_from": from.Name,
			},
		})
	}
}
