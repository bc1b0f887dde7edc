package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ensembleai/ensemble/pkg/models"
)

// DefaultStepLimit bounds runs whose agent does not set its own limit.
const DefaultStepLimit = 10

// InstructionsFunc derives an agent's instructions from the run's opaque
// caller context at the start of each turn.
type InstructionsFunc func(ctx context.Context, runContext any) (string, error)

// Agent is a named, immutable configuration: instructions, bound tools,
// transfer targets, guardrails, optional structured-output schema, and a
// step limit. Agents form a directed graph via Handoffs; cycles are
// permitted.
type Agent struct {
	// Name identifies the agent in metrics, events, and transfer chains.
	Name string

	// Instructions is the static system prompt. Ignored when
	// InstructionsFunc is set.
	Instructions string

	// InstructionsFunc derives the system prompt per turn from the run
	// context.
	InstructionsFunc InstructionsFunc

	// Tools is the agent's bound tool registry.
	Tools *ToolRegistry

	// Handoffs are the agents this agent may delegate to. A handoff naming
	// any other agent is a fatal misconfiguration.
	Handoffs []*Agent

	// Guardrails are applied in declaration order: input guardrails before
	// the model call, output guardrails on final-output candidates.
	Guardrails []Guardrail

	// OutputSchema, when set, requires the final output to be JSON
	// conforming to it. Violations trigger the directive/retry protocol.
	OutputSchema json.RawMessage

	// StepLimit bounds the run while this agent is active. Zero means
	// DefaultStepLimit.
	StepLimit int

	// KeepTranscriptOnHandoff disables context isolation for handoffs out of
	// this agent: the next agent sees the full transcript instead of
	// {original goal, transfer payload}.
	KeepTranscriptOnHandoff bool
}

// Validate checks that the agent is usable as a run entry point.
func (a *Agent) Validate() error {
	if a == nil {
		return fmt.Errorf("agent is nil")
	}
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if a.Instructions == "" && a.InstructionsFunc == nil {
		return fmt.Errorf("agent %q has no instructions", a.Name)
	}
	return nil
}

// stepLimit returns the effective step limit.
func (a *Agent) stepLimit() int {
	if a.StepLimit > 0 {
		return a.StepLimit
	}
	return DefaultStepLimit
}

// resolveInstructions returns the system prompt for the current turn.
func (a *Agent) resolveInstructions(ctx context.Context, runContext any) (string, error) {
	if a.InstructionsFunc != nil {
		return a.InstructionsFunc(ctx, runContext)
	}
	return a.Instructions, nil
}

// handoffTarget resolves name among this agent's configured transfer
// targets.
func (a *Agent) handoffTarget(name string) (*Agent, bool) {
	for _, target := range a.Handoffs {
		if target != nil && target.Name == name {
			return target, true
		}
	}
	return nil, false
}

// registry returns the agent's tool registry, never nil.
func (a *Agent) registry() *ToolRegistry {
	if a.Tools == nil {
		return NewToolRegistry()
	}
	return a.Tools
}

// collectByName walks the handoff graph from root and indexes every
// reachable agent by name. Used to rebind a serialized interruption to live
// agent configurations.
func collectByName(root *Agent) map[string]*Agent {
	agents := make(map[string]*Agent)
	var walk func(a *Agent)
	walk = func(a *Agent) {
		if a == nil {
			return
		}
		if _, seen := agents[a.Name]; seen {
			return
		}
		agents[a.Name] = a
		for _, target := range a.Handoffs {
			walk(target)
		}
	}
	walk(root)
	return agents
}

// HandoffTool builds a transfer tool for the given target agent. Invoking it
// produces the handoff sentinel the transfer manager acts on; the model
// supplies an optional payload describing the delegated task.
func HandoffTool(target *Agent, description string) *FuncTool {
	if description == "" {
		description = "Delegate the current task to agent " + target.Name + "."
	}
	name := "transfer_to_" + target.Name
	return &FuncTool{
		ToolName:        name,
		ToolDescription: description,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"payload": {"type": "string", "description": "Context to hand to the next agent"}
			}
		}`),
		Run: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			var input struct {
				Payload string `json:"payload"`
			}
			if len(params) > 0 {
				// Malformed payloads still transfer; the payload is advisory.
				_ = json.Unmarshal(params, &input)
			}
			return &ToolResult{
				Content: "transferring to " + target.Name,
				Handoff: &models.HandoffRequest{TargetAgent: target.Name, Payload: input.Payload},
			}, nil
		},
	}
}
