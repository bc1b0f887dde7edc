package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ensembleai/ensemble/pkg/models"
)

// DispatchConfig configures the parallel tool dispatcher.
type DispatchConfig struct {
	// MaxConcurrency limits the number of tool calls executing at once.
	// Default: 5
	MaxConcurrency int

	// DefaultTimeout is the per-call wall-clock timeout. On timeout the call
	// is recorded as a timeout error and dispatch proceeds without it.
	// Default: 30s
	DefaultTimeout time.Duration

	// ToolTimeouts overrides the timeout for specific tools by name.
	ToolTimeouts map[string]time.Duration
}

// DefaultDispatchConfig returns the default dispatcher configuration.
func DefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		MaxConcurrency: 5,
		DefaultTimeout: 30 * time.Second,
	}
}

func sanitizeDispatchConfig(config *DispatchConfig) *DispatchConfig {
	if config == nil {
		return DefaultDispatchConfig()
	}
	cfg := *config
	defaults := DefaultDispatchConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	return &cfg
}

// Dispatcher executes the tool calls of one model turn concurrently and
// merges their results. Each invocation is isolated: a failure, panic, or
// timeout in one call never cancels or corrupts the others.
type Dispatcher struct {
	config *DispatchConfig
	sem    chan struct{}
}

// NewDispatcher creates a dispatcher. If config is nil,
// DefaultDispatchConfig is used.
func NewDispatcher(config *DispatchConfig) *Dispatcher {
	config = sanitizeDispatchConfig(config)
	return &Dispatcher{
		config: config,
		sem:    make(chan struct{}, config.MaxConcurrency),
	}
}

// DispatchOutcome pairs one settled tool result with its execution timing.
type DispatchOutcome struct {
	Result   models.ToolResult
	Duration time.Duration
}

// DispatchAll executes all calls concurrently against reg and returns
// outcomes in the original request order, keyed by call ID. This is a join
// barrier: it returns only once every call has settled (success, error, or
// timeout).
func (d *Dispatcher) DispatchAll(ctx context.Context, reg *ToolRegistry, calls []models.ToolCall) []DispatchOutcome {
	if len(calls) == 0 {
		return nil
	}

	outcomes := make([]DispatchOutcome, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc models.ToolCall) {
			defer wg.Done()
			start := time.Now()
			outcomes[idx] = DispatchOutcome{
				Result:   d.dispatch(ctx, reg, tc),
				Duration: time.Since(start),
			}
		}(i, call)
	}

	wg.Wait()
	return outcomes
}

// dispatch runs one tool call with semaphore backpressure and a wall-clock
// timeout.
func (d *Dispatcher) dispatch(ctx context.Context, reg *ToolRegistry, call models.ToolCall) models.ToolResult {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    "cancelled before execution: " + ctx.Err().Error(),
			IsError:    true,
		}
	}

	timeout := d.config.DefaultTimeout
	if t, ok := d.config.ToolTimeouts[call.Name]; ok && t > 0 {
		timeout = t
	}

	res, err := d.executeWithTimeout(ctx, reg, call, timeout)
	if err != nil {
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    err.Error(),
			IsError:    true,
		}
	}
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    res.Content,
		IsError:    res.IsError,
		Handoff:    res.Handoff,
	}
}

// executeWithTimeout runs the tool in its own goroutine so a hung tool is
// abandoned at the deadline rather than blocking the turn's barrier. The
// in-flight call is not forcibly killed, only no longer awaited.
func (d *Dispatcher) executeWithTimeout(ctx context.Context, reg *ToolRegistry, call models.ToolCall, timeout time.Duration) (*ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execResult struct {
		result *ToolResult
		err    error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- execResult{err: fmt.Errorf("%w: %v\n%s", ErrToolPanic, r, stack)}
			}
		}()

		result, err := reg.Execute(execCtx, call.Name, call.Input)
		if err != nil {
			resultCh <- execResult{err: fmt.Errorf("tool %s: %w", call.Name, err)}
			return
		}
		resultCh <- execResult{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool %s: context cancelled: %w", call.Name, ctx.Err())
		}
		return nil, fmt.Errorf("tool %s: %w after %s", call.Name, ErrToolTimeout, timeout)
	}
}
