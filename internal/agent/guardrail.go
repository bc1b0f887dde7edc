package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// GuardrailDirection selects when a guardrail applies: to run input before
// the model call, or to final-output candidates after it.
type GuardrailDirection string

const (
	GuardrailInput  GuardrailDirection = "input"
	GuardrailOutput GuardrailDirection = "output"
)

// Verdict is a guardrail's validation outcome. Message carries structured
// feedback the engine folds into the corrective directive.
type Verdict struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// Guardrail is a pass/fail content validator. Guardrails run in declaration
// order for their direction.
type Guardrail interface {
	Name() string
	Direction() GuardrailDirection
	Validate(ctx context.Context, content string) Verdict
}

// FuncGuardrail adapts a plain function into the Guardrail interface.
type FuncGuardrail struct {
	GuardrailName string
	Dir           GuardrailDirection
	Check         func(ctx context.Context, content string) Verdict
}

// Name implements Guardrail.
func (g *FuncGuardrail) Name() string { return g.GuardrailName }

// Direction implements Guardrail.
func (g *FuncGuardrail) Direction() GuardrailDirection { return g.Dir }

// Validate implements Guardrail.
func (g *FuncGuardrail) Validate(ctx context.Context, content string) Verdict {
	if g.Check == nil {
		return Verdict{Passed: true}
	}
	return g.Check(ctx, content)
}

// DefaultGuardrailRetryBudget is the number of consecutive directive retries
// allowed per output check before the run fails guardrail-exhausted.
const DefaultGuardrailRetryBudget = 1

// structuredOutputCheck is the reserved check name for output-schema
// validation; it shares the directive/retry protocol with output guardrails.
const structuredOutputCheck = "structured_output"

// checkInput runs the agent's input guardrails against content. Any failure
// is terminal for the run: there is no "retry the user's message" semantics.
func checkInput(ctx context.Context, a *Agent, content string) *Verdict {
	for _, g := range a.Guardrails {
		if g.Direction() != GuardrailInput {
			continue
		}
		if v := g.Validate(ctx, content); !v.Passed {
			v := v
			if v.Message == "" {
				v.Message = "input rejected by guardrail " + g.Name()
			}
			return &v
		}
	}
	return nil
}

// outputFailure identifies which output check failed and with what feedback.
type outputFailure struct {
	Check   string
	Message string
}

// checkOutput runs the agent's output guardrails in declaration order, then
// the structured-output schema check, against a final-output candidate. The
// first failure wins; nil means the candidate passed everything.
func checkOutput(ctx context.Context, a *Agent, content string) *outputFailure {
	for _, g := range a.Guardrails {
		if g.Direction() != GuardrailOutput {
			continue
		}
		if v := g.Validate(ctx, content); !v.Passed {
			msg := v.Message
			if msg == "" {
				msg = "output rejected by guardrail " + g.Name()
			}
			return &outputFailure{Check: g.Name(), Message: msg}
		}
	}

	if len(a.OutputSchema) > 0 {
		if err := validateStructuredOutput(a.OutputSchema, content); err != nil {
			return &outputFailure{Check: structuredOutputCheck, Message: err.Error()}
		}
	}
	return nil
}

// passedBefore returns the names of the output checks that passed ahead of
// the failing one. Checks run in declaration order and stop at the first
// failure, so everything declared before it passed this candidate; when the
// schema check failed, that is every declared output guardrail.
func passedBefore(a *Agent, failure *outputFailure) []string {
	var names []string
	for _, g := range a.Guardrails {
		if g.Direction() != GuardrailOutput {
			continue
		}
		if g.Name() == failure.Check {
			return names
		}
		names = append(names, g.Name())
	}
	return names
}

// validateStructuredOutput checks that content is JSON conforming to schema.
func validateStructuredOutput(schema json.RawMessage, content string) error {
	compiled, err := jsonschema.CompileString("output.schema.json", string(schema))
	if err != nil {
		return fmt.Errorf("output schema does not compile: %w", err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return fmt.Errorf("response must be JSON matching the output schema: %w", err)
	}
	if err := compiled.Validate(decoded); err != nil {
		return fmt.Errorf("response does not match the output schema: %w", err)
	}
	return nil
}

// directiveFor synthesizes the corrective message appended to the
// conversation when an output check fails. The model is re-invoked with it,
// counting as one additional step.
func directiveFor(failure *outputFailure) string {
	return fmt.Sprintf(
		"Your previous response failed the %s check: %s. Revise the response to satisfy it without requesting new information.",
		failure.Check, failure.Message,
	)
}
