package agent

import (
	"strings"
	"testing"

	"github.com/ensembleai/ensemble/pkg/models"
)

func transferAgents() (*Agent, *Agent) {
	billing := &Agent{Name: "billing", Instructions: "handle billing"}
	triage := &Agent{Name: "triage", Instructions: "route requests", Handoffs: []*Agent{billing}}
	return triage, billing
}

func TestDetectTransfer_None(t *testing.T) {
	triage, _ := transferAgents()
	tr, err := detectTransfer(triage, []models.ToolResult{
		{ToolCallID: "call-1", Content: "plain result"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr != nil {
		t.Errorf("transfer = %+v, want nil", tr)
	}
}

func TestDetectTransfer_FirstWins(t *testing.T) {
	billing := &Agent{Name: "billing", Instructions: "x"}
	refunds := &Agent{Name: "refunds", Instructions: "x"}
	triage := &Agent{Name: "triage", Instructions: "x", Handoffs: []*Agent{billing, refunds}}

	results := []models.ToolResult{
		{ToolCallID: "call-1", Handoff: &models.HandoffRequest{TargetAgent: "billing", Payload: "invoice"}},
		{ToolCallID: "call-2", Handoff: &models.HandoffRequest{TargetAgent: "refunds", Payload: "refund"}},
	}
	tr, err := detectTransfer(triage, results)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.target.Name != "billing" {
		t.Errorf("target = %q, want %q", tr.target.Name, "billing")
	}
	if !results[1].IsError {
		t.Error("losing handoff should be rewritten to an error result")
	}
	if !strings.Contains(results[1].Content, "already in progress") {
		t.Errorf("losing handoff content = %q", results[1].Content)
	}
}

func TestDetectTransfer_UnknownTarget(t *testing.T) {
	triage, _ := transferAgents()
	_, err := detectTransfer(triage, []models.ToolResult{
		{ToolCallID: "call-1", Handoff: &models.HandoffRequest{TargetAgent: "legal"}},
	})
	if err == nil {
		t.Fatal("unknown target accepted")
	}
	if !IsRunErrorType(err, RunErrorUnknownTransferTarget) {
		t.Errorf("error type = %v, want unknown transfer target", err)
	}
}

func TestApplyTransfer_Isolation(t *testing.T) {
	triage, billing := transferAgents()
	state := newRunState(triage, "help with my invoice", nil)
	state.appendMessage(models.Message{Role: models.RoleAssistant, Content: "let me look"})
	state.appendMessage(models.Message{Role: models.RoleTool, ToolResults: []models.ToolResult{
		{ToolCallID: "call-1", Content: "internal detail"},
	}})

	applyTransfer(state, &transfer{target: billing, payload: "customer asks about invoice 42"})

	if state.ActiveAgent != "billing" {
		t.Errorf("ActiveAgent = %q, want %q", state.ActiveAgent, "billing")
	}
	if len(state.TransferChain) != 1 || state.TransferChain[0] != "billing" {
		t.Errorf("TransferChain = %v, want [billing]", state.TransferChain)
	}
	if len(state.Messages) != 2 {
		t.Fatalf("len(Messages) = %d, want 2 (goal + payload)", len(state.Messages))
	}
	if state.Messages[0].Content != "help with my invoice" {
		t.Errorf("Messages[0] = %q, want original goal", state.Messages[0].Content)
	}
	if state.Messages[1].Content != "customer asks about invoice 42" {
		t.Errorf("Messages[1] = %q, want payload", state.Messages[1].Content)
	}
	if from := state.Messages[1].Metadata["transfer_from"]; from != "triage" {
		t.Errorf("transfer_from = %v, want triage", from)
	}
}

func TestApplyTransfer_KeepTranscript(t *testing.T) {
	triage, billing := transferAgents()
	triage.KeepTranscriptOnHandoff = true
	state := newRunState(triage, "help", nil)
	state.appendMessage(models.Message{Role: models.RoleAssistant, Content: "checking"})

	applyTransfer(state, &transfer{target: billing, payload: "context"})

	if len(state.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3 (full transcript + payload)", len(state.Messages))
	}
	if state.Messages[1].Content != "checking" {
		t.Error("prior transcript should be preserved")
	}
	if state.Messages[2].Content != "context" {
		t.Errorf("Messages[2] = %q, want payload", state.Messages[2].Content)
	}
}

func TestApplyTransfer_MetricsSurvive(t *testing.T) {
	triage, billing := transferAgents()
	state := newRunState(triage, "help", nil)
	state.metricsFor("triage").TurnsTaken = 2
	state.metricsFor("triage").TokensIn = 100

	applyTransfer(state, &transfer{target: billing})

	if got := state.metricsFor("triage").TurnsTaken; got != 2 {
		t.Errorf("triage TurnsTaken = %d, want 2 after transfer", got)
	}
}
