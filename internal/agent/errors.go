package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors for engine operations
var (
	// ErrNoGateway indicates no model gateway is configured
	ErrNoGateway = errors.New("no model gateway configured")

	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrRunTerminal indicates an operation was attempted on a terminal run
	ErrRunTerminal = errors.New("run is in a terminal state")

	// ErrUnresolvedApproval indicates resume was called without a decision
	// for every pending approval
	ErrUnresolvedApproval = errors.New("pending approval has no decision")
)

// RunErrorType categorizes fatal run failures. Recoverable conditions (tool
// errors, timeouts, rejected approvals, guardrail failures within budget)
// are folded back into the conversation instead and never surface here.
type RunErrorType string

const (
	// RunErrorInputGuardrail indicates the run input failed an input guardrail.
	RunErrorInputGuardrail RunErrorType = "input_guardrail_rejection"

	// RunErrorGuardrailExhausted indicates an output guardrail kept failing
	// past its retry budget.
	RunErrorGuardrailExhausted RunErrorType = "output_guardrail_exhausted"

	// RunErrorUnknownTransferTarget indicates a handoff named an agent that is
	// not among the active agent's configured targets.
	RunErrorUnknownTransferTarget RunErrorType = "unknown_transfer_target"

	// RunErrorStepLimitExceeded indicates the loop hit its step limit.
	RunErrorStepLimitExceeded RunErrorType = "step_limit_exceeded"

	// RunErrorModelGateway indicates the model gateway call failed. The core
	// does not retry; retry policy belongs to the gateway adapter.
	RunErrorModelGateway RunErrorType = "model_gateway_error"

	// RunErrorCancelled indicates the run's context was cancelled.
	RunErrorCancelled RunErrorType = "cancelled"

	// RunErrorConfig indicates the run was misconfigured (nil agent,
	// unresolvable roster on resume, invalid decisions).
	RunErrorConfig RunErrorType = "config_error"
)

// RunError is the typed cause attached to a failed run. Partial metrics and
// the transfer chain up to the failure point remain available on the result.
type RunError struct {
	// Type categorizes the failure.
	Type RunErrorType

	// Agent is the agent that was active when the run failed.
	Agent string

	// Step is the step number at which the run failed.
	Step int

	// Message is the human-readable failure description.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[run:%s]", e.Type))
	if e.Agent != "" {
		parts = append(parts, "agent="+e.Agent)
	}
	if e.Step > 0 {
		parts = append(parts, fmt.Sprintf("step=%d", e.Step))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *RunError) Unwrap() error {
	return e.Cause
}

// NewRunError creates a RunError of the given type.
func NewRunError(t RunErrorType, cause error) *RunError {
	e := &RunError{Type: t, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

// WithAgent records the active agent name on the error.
func (e *RunError) WithAgent(name string) *RunError {
	e.Agent = name
	return e
}

// WithStep records the failing step number on the error.
func (e *RunError) WithStep(step int) *RunError {
	e.Step = step
	return e
}

// WithMessage sets a custom human-readable message.
func (e *RunError) WithMessage(msg string) *RunError {
	e.Message = msg
	return e
}

// GetRunError extracts a RunError from an error chain using errors.As.
func GetRunError(err error) (*RunError, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr, true
	}
	return nil, false
}

// IsRunErrorType reports whether err is a RunError of the given type.
func IsRunErrorType(err error, t RunErrorType) bool {
	runErr, ok := GetRunError(err)
	return ok && runErr.Type == t
}
