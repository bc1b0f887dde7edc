package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ensembleai/ensemble/internal/observability"
	"github.com/ensembleai/ensemble/internal/sessions"
	"github.com/ensembleai/ensemble/pkg/models"
)

// Options configures a Runner. Only Gateway is required; every other field
// has a working zero value.
type Options struct {
	// Gateway is the model backend all agents in this runner invoke.
	Gateway ModelGateway

	// Sessions persists conversation history when a run carries a session ID.
	Sessions sessions.Store

	// Events receives the run's structured event stream.
	Events EventSink

	// Logger receives engine logs. Nil means logging is disabled.
	Logger *slog.Logger

	// Metrics receives Prometheus instrumentation. Nil disables it.
	Metrics *observability.Metrics

	// Tracer creates spans around model and tool activity. Nil disables it.
	Tracer *observability.Tracer

	// Dispatch tunes parallel tool execution. Nil means defaults.
	Dispatch *DispatchConfig

	// GuardrailRetryBudget is the number of consecutive directive retries
	// allowed per output check. Zero means DefaultGuardrailRetryBudget;
	// negative disables retries entirely.
	GuardrailRetryBudget int
}

// Runner executes agents: it owns the step loop, parallel tool dispatch,
// transfers, guardrail enforcement, and approval suspension. A Runner is
// immutable after construction and safe for concurrent use; each call to
// Start or Resume drives an independent run.
type Runner struct {
	gateway    ModelGateway
	sessions   sessions.Store
	events     EventSink
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	dispatcher *Dispatcher
	retries    int
}

// NewRunner creates a runner from options.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Gateway == nil {
		return nil, ErrNoGateway
	}
	events := opts.Events
	if events == nil {
		events = NoopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	retries := opts.GuardrailRetryBudget
	if retries == 0 {
		retries = DefaultGuardrailRetryBudget
	} else if retries < 0 {
		retries = 0
	}
	return &Runner{
		gateway:    opts.Gateway,
		sessions:   opts.Sessions,
		events:     events,
		logger:     logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		dispatcher: NewDispatcher(opts.Dispatch),
		retries:    retries,
	}, nil
}

// runOptions holds per-run settings.
type runOptions struct {
	sessionID string
}

// RunOption customizes a single Start or Resume call.
type RunOption func(*runOptions)

// WithSession attaches the run to a persistent session. History is loaded
// before the run and the full transcript is saved when the run terminates.
func WithSession(id string) RunOption {
	return func(o *runOptions) { o.sessionID = id }
}

// RunResult is the outcome of a Start or Resume call. Exactly one of
// FinalOutput (on success), Interruption (on suspension), or Failure (on
// fatal error) is meaningful, selected by Status.
type RunResult struct {
	RunID         string
	Status        RunStatus
	FinalOutput   string
	Interruption  *Interruption
	Failure       *RunError
	Metrics       map[string]AgentMetrics
	TransferChain []string
	Steps         int
}

// Start executes a fresh run of the given agent on input. runContext is an
// opaque caller value passed unchanged to every tool execution, approval
// predicate, and instruction resolution for the life of the run.
//
// Start blocks until the run reaches final output, fails, or suspends for
// approval. Fatal failures return both a result (with partial metrics and
// transfer chain) and the typed *RunError.
func (r *Runner) Start(ctx context.Context, a *Agent, input string, runContext any, opts ...RunOption) (*RunResult, error) {
	if err := a.Validate(); err != nil {
		return nil, NewRunError(RunErrorConfig, err)
	}
	o := &runOptions{}
	for _, opt := range opts {
		opt(o)
	}

	state := newRunState(a, input, runContext)
	if err := r.loadSession(ctx, state, o); err != nil {
		return nil, NewRunError(RunErrorConfig, err)
	}

	ctx, span := r.startSpan(ctx, "run",
		attribute.String("run.id", state.RunID),
		attribute.String("agent.name", a.Name),
	)
	result, err := r.startRun(ctx, state, o)
	r.endSpan(span, err)
	return result, err
}

func (r *Runner) startRun(ctx context.Context, state *RunState, o *runOptions) (*RunResult, error) {
	r.logger.Info("run started",
		"run_id", state.RunID,
		"agent", state.ActiveAgent,
		"step_limit", state.StepLimit,
	)
	r.events.Emit(newEvent(models.EventRunStarted, state))
	r.events.Emit(newEvent(models.EventAgentStarted, state))

	rcCtx := WithRunContext(ctx, state.Context)
	if v := checkInput(rcCtx, state.agent, state.OriginalInput); v != nil {
		ev := newEvent(models.EventGuardrailResult, state)
		ev.Message = v.Message
		r.events.Emit(*ev.WithMeta("direction", "input").WithMeta("passed", false))
		return r.fail(ctx, state, o, NewRunError(RunErrorInputGuardrail, nil).
			WithAgent(state.ActiveAgent).
			WithMessage(v.Message))
	}

	return r.loop(ctx, state, o)
}

// Resume continues a suspended run once every pending approval has a
// decision. root must be the same agent graph (by name) the run started
// with; the active agent is rebound from it so tool functions and approval
// predicates come from live configuration, not the snapshot.
//
// runContext replaces the opaque caller context when non-nil; in-process
// resumes may pass nil to keep the original value.
func (r *Runner) Resume(ctx context.Context, root *Agent, in *Interruption, decisions []Decision, runContext any, opts ...RunOption) (*RunResult, error) {
	o := &runOptions{}
	for _, opt := range opts {
		opt(o)
	}

	state, err := restore(root, in, runContext)
	if err != nil {
		return nil, NewRunError(RunErrorConfig, err)
	}
	rejected, err := resolveDecisions(state.Pending, decisions)
	if err != nil {
		return nil, NewRunError(RunErrorConfig, err)
	}

	ctx, span := r.startSpan(ctx, "resume",
		attribute.String("run.id", state.RunID),
		attribute.String("agent.name", state.ActiveAgent),
	)
	result, err := r.resumeRun(ctx, state, o, decisions, rejected)
	r.endSpan(span, err)
	return result, err
}

func (r *Runner) resumeRun(ctx context.Context, state *RunState, o *runOptions, decisions []Decision, rejected map[string]models.ToolResult) (*RunResult, error) {
	r.logger.Info("run resumed",
		"run_id", state.RunID,
		"agent", state.ActiveAgent,
		"step", state.StepNumber,
		"decisions", len(decisions),
	)
	for _, d := range decisions {
		outcome := "approved"
		if !d.Approve {
			outcome = "rejected"
		}
		ev := newEvent(models.EventApprovalResolved, state)
		ev.ToolCallID = d.CallID
		ev.Message = d.Reason
		r.events.Emit(*ev.WithMeta("outcome", outcome))
		if r.metrics != nil {
			r.metrics.ApprovalCounter.WithLabelValues(outcome).Inc()
		}
	}

	calls := state.PendingCalls
	state.Status = StatusRunning
	state.Pending = nil
	state.PendingCalls = nil

	// Re-enter the suspended turn at its dispatch sub-step: approved calls
	// execute now, rejected ones settle as synthetic error results.
	if result, err, done := r.runTurnTools(ctx, state, o, calls, rejected); done {
		return result, err
	}
	return r.loop(ctx, state, o)
}

// loop drives the step machine until the run terminates or suspends.
func (r *Runner) loop(ctx context.Context, state *RunState, o *runOptions) (*RunResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, state, o, NewRunError(RunErrorCancelled, err).
				WithAgent(state.ActiveAgent).WithStep(state.StepNumber))
		}
		if state.StepNumber >= state.StepLimit {
			return r.fail(ctx, state, o, NewRunError(RunErrorStepLimitExceeded, nil).
				WithAgent(state.ActiveAgent).
				WithStep(state.StepNumber).
				WithMessage(fmt.Sprintf("run exceeded step limit of %d", state.StepLimit)))
		}
		state.StepNumber++

		resp, runErr := r.callModel(ctx, state)
		if runErr != nil {
			return r.fail(ctx, state, o, runErr)
		}

		if len(resp.ToolCalls) == 0 {
			result, err, done := r.finishOrRetry(ctx, state, o, resp.Text)
			if done {
				return result, err
			}
			continue
		}

		state.appendMessage(models.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		state.metricsFor(state.ActiveAgent).ToolCallCount += len(resp.ToolCalls)

		rcCtx := WithRunContext(ctx, state.Context)
		pending := classifyApprovals(rcCtx, state.agent, resp.ToolCalls)
		if len(pending) > 0 {
			return r.suspend(state, pending, resp.ToolCalls), nil
		}

		if result, err, done := r.runTurnTools(ctx, state, o, resp.ToolCalls, nil); done {
			return result, err
		}
	}
}

// callModel invokes the gateway for one turn and accumulates usage.
func (r *Runner) callModel(ctx context.Context, state *RunState) (*ModelResponse, *RunError) {
	a := state.agent
	rcCtx := WithRunContext(ctx, state.Context)
	instructions, err := a.resolveInstructions(rcCtx, state.Context)
	if err != nil {
		return nil, NewRunError(RunErrorConfig, err).
			WithAgent(a.Name).WithStep(state.StepNumber).
			WithMessage("instructions resolution failed: " + err.Error())
	}

	req := &ModelRequest{
		Instructions: instructions,
		Messages:     models.CloneMessages(state.Messages),
		Tools:        a.registry().Schemas(),
		OutputSchema: a.OutputSchema,
	}

	ev := newEvent(models.EventModelCall, state)
	r.events.Emit(*ev.WithMeta("gateway", r.gateway.Name()))

	callCtx, span := r.startSpan(ctx, "model.call",
		attribute.String("gateway", r.gateway.Name()),
		attribute.String("agent.name", a.Name),
		attribute.Int("step", state.StepNumber),
	)
	start := time.Now()
	resp, err := r.gateway.Invoke(callCtx, req)
	elapsed := time.Since(start)
	r.endSpan(span, err)

	if r.metrics != nil {
		r.metrics.ModelCallDuration.WithLabelValues(r.gateway.Name()).Observe(elapsed.Seconds())
		status := "success"
		if err != nil {
			status = "error"
		}
		r.metrics.ModelCallCounter.WithLabelValues(r.gateway.Name(), status).Inc()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewRunError(RunErrorCancelled, ctx.Err()).
				WithAgent(a.Name).WithStep(state.StepNumber)
		}
		return nil, NewRunError(RunErrorModelGateway, err).
			WithAgent(a.Name).WithStep(state.StepNumber)
	}

	m := state.metricsFor(a.Name)
	m.TurnsTaken++
	m.TokensIn += resp.Usage.InputTokens
	m.TokensOut += resp.Usage.OutputTokens
	if r.metrics != nil {
		r.metrics.TokensUsed.WithLabelValues(r.gateway.Name(), "in").Add(float64(resp.Usage.InputTokens))
		r.metrics.TokensUsed.WithLabelValues(r.gateway.Name(), "out").Add(float64(resp.Usage.OutputTokens))
	}

	r.logger.Debug("model call completed",
		"run_id", state.RunID,
		"agent", a.Name,
		"step", state.StepNumber,
		"tool_calls", len(resp.ToolCalls),
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// finishOrRetry handles a text-only model response: it is a final-output
// candidate subject to output guardrails and the structured-output check.
// done=false means a corrective directive was appended and the loop should
// take another step.
func (r *Runner) finishOrRetry(ctx context.Context, state *RunState, o *runOptions, text string) (*RunResult, error, bool) {
	rcCtx := WithRunContext(ctx, state.Context)
	failure := checkOutput(rcCtx, state.agent, text)
	if failure == nil {
		for check := range state.GuardrailFailures {
			delete(state.GuardrailFailures, check)
		}
		state.appendMessage(models.Message{Role: models.RoleAssistant, Content: text})
		result, err := r.finish(ctx, state, o, text)
		return result, err, true
	}

	// The budget caps consecutive failures per check: a check that passed
	// this candidate has its streak broken even though a later check failed.
	for _, check := range passedBefore(state.agent, failure) {
		delete(state.GuardrailFailures, check)
	}
	state.GuardrailFailures[failure.Check]++
	ev := newEvent(models.EventGuardrailResult, state)
	ev.Message = failure.Message
	r.events.Emit(*ev.WithMeta("direction", "output").
		WithMeta("check", failure.Check).
		WithMeta("passed", false).
		WithMeta("attempt", state.GuardrailFailures[failure.Check]))

	if state.GuardrailFailures[failure.Check] > r.retries {
		result, err := r.fail(ctx, state, o, NewRunError(RunErrorGuardrailExhausted, nil).
			WithAgent(state.ActiveAgent).
			WithStep(state.StepNumber).
			WithMessage(fmt.Sprintf("output check %q failed %d times: %s",
				failure.Check, state.GuardrailFailures[failure.Check], failure.Message)))
		return result, err, true
	}

	r.logger.Debug("output check failed, retrying with directive",
		"run_id", state.RunID,
		"check", failure.Check,
		"attempt", state.GuardrailFailures[failure.Check],
	)
	state.appendMessage(models.Message{Role: models.RoleAssistant, Content: text})
	state.appendMessage(models.Message{Role: models.RoleSystem, Content: directiveFor(failure)})
	return nil, nil, false
}

// runTurnTools executes one turn's tool calls (minus any pre-resolved
// rejections), merges results in request order, and applies a transfer if
// one was requested. done=true means the run terminated inside this turn.
func (r *Runner) runTurnTools(ctx context.Context, state *RunState, o *runOptions, calls []models.ToolCall, preResolved map[string]models.ToolResult) (*RunResult, error, bool) {
	if err := ctx.Err(); err != nil {
		result, ferr := r.fail(ctx, state, o, NewRunError(RunErrorCancelled, err).
			WithAgent(state.ActiveAgent).WithStep(state.StepNumber))
		return result, ferr, true
	}

	var toDispatch []models.ToolCall
	for _, call := range calls {
		if _, ok := preResolved[call.ID]; ok {
			continue
		}
		toDispatch = append(toDispatch, call)
		ev := newEvent(models.EventToolCallStarted, state)
		ev.ToolName = call.Name
		ev.ToolCallID = call.ID
		r.events.Emit(ev)
	}

	rcCtx := WithRunContext(ctx, state.Context)
	dispatchCtx, span := r.startSpan(rcCtx, "tools.dispatch",
		attribute.Int("tool.count", len(toDispatch)),
	)
	outcomes := r.dispatcher.DispatchAll(dispatchCtx, state.agent.registry(), toDispatch)
	r.endSpan(span, nil)

	byID := make(map[string]DispatchOutcome, len(outcomes))
	for _, out := range outcomes {
		byID[out.Result.ToolCallID] = out
	}

	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		if res, ok := preResolved[call.ID]; ok {
			results = append(results, res)
			continue
		}
		out := byID[call.ID]
		results = append(results, out.Result)

		ev := newEvent(models.EventToolCallEnded, state)
		ev.ToolName = call.Name
		ev.ToolCallID = call.ID
		r.events.Emit(*ev.WithMeta("is_error", out.Result.IsError).
			WithMeta("duration_ms", out.Duration.Milliseconds()))
		if r.metrics != nil {
			status := "success"
			if out.Result.IsError {
				status = "error"
			}
			r.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
			r.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(out.Duration.Seconds())
		}
	}

	if err := ctx.Err(); err != nil {
		result, ferr := r.fail(ctx, state, o, NewRunError(RunErrorCancelled, err).
			WithAgent(state.ActiveAgent).WithStep(state.StepNumber))
		return result, ferr, true
	}

	tr, err := detectTransfer(state.agent, results)
	if err != nil {
		runErr, _ := GetRunError(err)
		result, ferr := r.fail(ctx, state, o, runErr.WithStep(state.StepNumber))
		return result, ferr, true
	}

	state.appendMessage(models.Message{Role: models.RoleTool, ToolResults: results})

	if tr != nil {
		if result, ferr, done := r.applyTurnTransfer(ctx, state, o, tr); done {
			return result, ferr, true
		}
	}
	return nil, nil, false
}

// applyTurnTransfer performs the agent swap and runs the new agent's input
// guardrails against its first visible input.
func (r *Runner) applyTurnTransfer(ctx context.Context, state *RunState, o *runOptions, tr *transfer) (*RunResult, error, bool) {
	from := state.ActiveAgent
	kept := state.agent.KeepTranscriptOnHandoff

	ev := newEvent(models.EventTransfer, state)
	ev.Message = tr.payload
	r.events.Emit(*ev.WithMeta("from", from).WithMeta("to", tr.target.Name))
	r.events.Emit(newEvent(models.EventAgentEnded, state))

	applyTransfer(state, tr)

	if r.metrics != nil {
		r.metrics.TransferCounter.WithLabelValues(from, tr.target.Name).Inc()
	}
	r.logger.Info("transfer",
		"run_id", state.RunID,
		"from", from,
		"to", tr.target.Name,
		"keep_transcript", kept,
	)
	r.events.Emit(newEvent(models.EventAgentStarted, state))

	// The receiving agent's input guardrails vet the payload (or, absent
	// one, the original goal it will reason over).
	subject := tr.payload
	if subject == "" {
		subject = state.OriginalInput
	}
	rcCtx := WithRunContext(ctx, state.Context)
	if v := checkInput(rcCtx, state.agent, subject); v != nil {
		gev := newEvent(models.EventGuardrailResult, state)
		gev.Message = v.Message
		r.events.Emit(*gev.WithMeta("direction", "input").WithMeta("passed", false))
		result, ferr := r.fail(ctx, state, o, NewRunError(RunErrorInputGuardrail, nil).
			WithAgent(state.ActiveAgent).
			WithStep(state.StepNumber).
			WithMessage(v.Message))
		return result, ferr, true
	}
	return nil, nil, false
}

// suspend freezes the run for human approval and snapshots it.
func (r *Runner) suspend(state *RunState, pending []PendingApproval, calls []models.ToolCall) *RunResult {
	state.Status = StatusAwaitingApproval
	state.Pending = pending
	state.PendingCalls = calls

	for _, p := range pending {
		ev := newEvent(models.EventApprovalRequested, state)
		ev.ToolName = p.ToolName
		ev.ToolCallID = p.CallID
		r.events.Emit(ev)
		if r.metrics != nil {
			r.metrics.ApprovalCounter.WithLabelValues("requested").Inc()
		}
	}
	r.logger.Info("run awaiting approval",
		"run_id", state.RunID,
		"agent", state.ActiveAgent,
		"pending", len(pending),
	)

	return &RunResult{
		RunID:         state.RunID,
		Status:        StatusAwaitingApproval,
		Interruption:  state.snapshot(),
		Metrics:       state.cloneMetrics(),
		TransferChain: append([]string(nil), state.TransferChain...),
		Steps:         state.StepNumber,
	}
}

// finish terminates the run with final output.
func (r *Runner) finish(ctx context.Context, state *RunState, o *runOptions, output string) (*RunResult, error) {
	state.Status = StatusFinalOutput
	r.events.Emit(newEvent(models.EventAgentEnded, state))
	ev := newEvent(models.EventRunEnded, state)
	r.events.Emit(*ev.WithMeta("status", string(StatusFinalOutput)))
	if r.metrics != nil {
		r.metrics.RunCounter.WithLabelValues(string(StatusFinalOutput), "").Inc()
	}
	r.logger.Info("run completed",
		"run_id", state.RunID,
		"agent", state.ActiveAgent,
		"steps", state.StepNumber,
	)
	r.saveSession(ctx, state, o)

	return &RunResult{
		RunID:         state.RunID,
		Status:        StatusFinalOutput,
		FinalOutput:   output,
		Metrics:       state.cloneMetrics(),
		TransferChain: append([]string(nil), state.TransferChain...),
		Steps:         state.StepNumber,
	}, nil
}

// fail terminates the run with a typed fatal error. The result still carries
// partial metrics and the transfer chain up to the failure point.
func (r *Runner) fail(ctx context.Context, state *RunState, o *runOptions, runErr *RunError) (*RunResult, error) {
	state.Status = StatusFailed
	r.events.Emit(newEvent(models.EventAgentEnded, state))
	ev := newEvent(models.EventRunEnded, state)
	ev.Message = runErr.Error()
	r.events.Emit(*ev.WithMeta("status", string(StatusFailed)).
		WithMeta("failure_type", string(runErr.Type)))
	if r.metrics != nil {
		r.metrics.RunCounter.WithLabelValues(string(StatusFailed), string(runErr.Type)).Inc()
	}
	r.logger.Error("run failed",
		"run_id", state.RunID,
		"agent", state.ActiveAgent,
		"step", state.StepNumber,
		"type", string(runErr.Type),
		"error", runErr.Error(),
	)
	r.saveSession(ctx, state, o)

	return &RunResult{
		RunID:         state.RunID,
		Status:        StatusFailed,
		Failure:       runErr,
		Metrics:       state.cloneMetrics(),
		TransferChain: append([]string(nil), state.TransferChain...),
		Steps:         state.StepNumber,
	}, runErr
}

// loadSession prepends persisted history to the run's messages.
func (r *Runner) loadSession(ctx context.Context, state *RunState, o *runOptions) error {
	if r.sessions == nil || o.sessionID == "" {
		return nil
	}
	history, err := r.sessions.Load(ctx, o.sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", o.sessionID, err)
	}
	if len(history) > 0 {
		state.Messages = append(history, state.Messages...)
	}
	return nil
}

// saveSession persists the full transcript on terminal states. Persistence
// failures are logged, never fatal: the run outcome stands.
func (r *Runner) saveSession(ctx context.Context, state *RunState, o *runOptions) {
	if r.sessions == nil || o.sessionID == "" {
		return
	}
	if err := r.sessions.Save(ctx, o.sessionID, state.Messages); err != nil {
		r.logger.Error("session save failed",
			"run_id", state.RunID,
			"session_id", o.sessionID,
			"error", err,
		)
	}
}

func (r *Runner) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, nil
	}
	return r.tracer.StartSpan(ctx, name, attrs...)
}

func (r *Runner) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	observability.EndSpan(span, err)
}
