package agent

import (
	"testing"

	"github.com/ensembleai/ensemble/pkg/models"
)

func TestDecodeInterruption_RejectsNoPending(t *testing.T) {
	in := &Interruption{RunID: "run-1"}
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeInterruption(data); err == nil {
		t.Error("interruption without pending approvals decoded")
	}
	if _, err := DecodeInterruption([]byte("not json")); err == nil {
		t.Error("malformed payload decoded")
	}
}

func TestRestore_UnknownActiveAgent(t *testing.T) {
	root := &Agent{Name: "root", Instructions: "x"}
	in := &Interruption{
		RunID:       "run-1",
		ActiveAgent: "ghost",
		Pending:     []PendingApproval{{CallID: "call-1"}},
	}
	if _, err := restore(root, in, nil); err == nil {
		t.Error("restore bound to an agent missing from the live graph")
	}
}

func TestRestore_RebindsThroughHandoffGraph(t *testing.T) {
	billing := &Agent{Name: "billing", Instructions: "x"}
	root := &Agent{Name: "root", Instructions: "x", Handoffs: []*Agent{billing}}

	in := &Interruption{
		RunID:       "run-1",
		ActiveAgent: "billing",
		StepNumber:  2,
		StepLimit:   10,
		Messages:    []models.Message{{ID: "msg-1", Role: models.RoleUser, Content: "goal"}},
		Pending:     []PendingApproval{{CallID: "call-1"}},
	}
	state, err := restore(root, in, "ctx-value")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if state.agent != billing {
		t.Error("active agent not rebound to live configuration")
	}
	if state.Context != "ctx-value" {
		t.Errorf("run context = %v, want ctx-value", state.Context)
	}
	if state.Status != StatusAwaitingApproval {
		t.Errorf("status = %q, want awaiting approval", state.Status)
	}
}

func TestCollectByName_Cycles(t *testing.T) {
	a := &Agent{Name: "a", Instructions: "x"}
	b := &Agent{Name: "b", Instructions: "x"}
	a.Handoffs = []*Agent{b}
	b.Handoffs = []*Agent{a}

	agents := collectByName(a)
	if len(agents) != 2 {
		t.Errorf("agents = %d, want 2 (cycle must terminate)", len(agents))
	}
}
