package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ensembleai/ensemble/pkg/models"
)

// mockTool implements Tool for testing
type mockTool struct {
	name        string
	description string
	schema      json.RawMessage
	execFunc    func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
	execCount   atomic.Int32
}

func (m *mockTool) Name() string            { return m.name }
func (m *mockTool) Description() string     { return m.description }
func (m *mockTool) Schema() json.RawMessage { return m.schema }
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	m.execCount.Add(1)
	if m.execFunc != nil {
		return m.execFunc(ctx, params)
	}
	return &ToolResult{Content: "success"}, nil
}

func TestDispatchAll_ResultOrder(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "echo",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			var in struct {
				Value string `json:"value"`
				Sleep int    `json:"sleep_ms"`
			}
			if err := json.Unmarshal(params, &in); err != nil {
				return nil, err
			}
			time.Sleep(time.Duration(in.Sleep) * time.Millisecond)
			return &ToolResult{Content: in.Value}, nil
		},
	})

	// First call sleeps longest so completion order inverts request order.
	calls := []models.ToolCall{
		{ID: "call-1", Name: "echo", Input: json.RawMessage(`{"value":"a","sleep_ms":60}`)},
		{ID: "call-2", Name: "echo", Input: json.RawMessage(`{"value":"b","sleep_ms":30}`)},
		{ID: "call-3", Name: "echo", Input: json.RawMessage(`{"value":"c","sleep_ms":0}`)},
	}

	d := NewDispatcher(nil)
	outcomes := d.DispatchAll(context.Background(), registry, calls)

	if len(outcomes) != 3 {
		t.Fatalf("len(outcomes) = %d, want 3", len(outcomes))
	}
	for i, want := range []string{"a", "b", "c"} {
		if outcomes[i].Result.Content != want {
			t.Errorf("outcomes[%d].Content = %q, want %q", i, outcomes[i].Result.Content, want)
		}
		if outcomes[i].Result.ToolCallID != calls[i].ID {
			t.Errorf("outcomes[%d].ToolCallID = %q, want %q", i, outcomes[i].Result.ToolCallID, calls[i].ID)
		}
	}
}

func TestDispatchAll_FailureIsolation(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "ok",
	})
	registry.Register(&mockTool{
		name: "boom",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return nil, errors.New("backend unavailable")
		},
	})

	calls := []models.ToolCall{
		{ID: "call-1", Name: "boom", Input: json.RawMessage(`{}`)},
		{ID: "call-2", Name: "ok", Input: json.RawMessage(`{}`)},
	}

	d := NewDispatcher(nil)
	outcomes := d.DispatchAll(context.Background(), registry, calls)

	if !outcomes[0].Result.IsError {
		t.Error("outcomes[0].IsError = false, want true")
	}
	if !strings.Contains(outcomes[0].Result.Content, "backend unavailable") {
		t.Errorf("outcomes[0].Content = %q, want backend error text", outcomes[0].Result.Content)
	}
	if outcomes[1].Result.IsError {
		t.Errorf("outcomes[1].IsError = true, want false (content %q)", outcomes[1].Result.Content)
	}
}

func TestDispatchAll_PanicRecovery(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "panics",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			panic("tool blew up")
		},
	})
	registry.Register(&mockTool{name: "ok"})

	calls := []models.ToolCall{
		{ID: "call-1", Name: "panics", Input: json.RawMessage(`{}`)},
		{ID: "call-2", Name: "ok", Input: json.RawMessage(`{}`)},
	}

	d := NewDispatcher(nil)
	outcomes := d.DispatchAll(context.Background(), registry, calls)

	if !outcomes[0].Result.IsError {
		t.Fatal("panic result should be an error result")
	}
	if !strings.Contains(outcomes[0].Result.Content, "tool blew up") {
		t.Errorf("panic content = %q, want panic message", outcomes[0].Result.Content)
	}
	if outcomes[1].Result.IsError {
		t.Error("sibling call should be unaffected by panic")
	}
}

func TestDispatchAll_Timeout(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "slow",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return &ToolResult{Content: "too late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	d := NewDispatcher(&DispatchConfig{
		DefaultTimeout: 50 * time.Millisecond,
	})
	start := time.Now()
	outcomes := d.DispatchAll(context.Background(), registry, []models.ToolCall{
		{ID: "call-1", Name: "slow", Input: json.RawMessage(`{}`)},
	})
	elapsed := time.Since(start)

	if !outcomes[0].Result.IsError {
		t.Fatal("timed out call should be an error result")
	}
	if !strings.Contains(outcomes[0].Result.Content, "timed out") {
		t.Errorf("timeout content = %q, want timeout text", outcomes[0].Result.Content)
	}
	if elapsed > time.Second {
		t.Errorf("barrier took %v, timeout should release it promptly", elapsed)
	}
}

func TestDispatchAll_PerToolTimeout(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "slow",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			time.Sleep(80 * time.Millisecond)
			return &ToolResult{Content: "done"}, nil
		},
	})

	d := NewDispatcher(&DispatchConfig{
		DefaultTimeout: 10 * time.Millisecond,
		ToolTimeouts:   map[string]time.Duration{"slow": 500 * time.Millisecond},
	})
	outcomes := d.DispatchAll(context.Background(), registry, []models.ToolCall{
		{ID: "call-1", Name: "slow", Input: json.RawMessage(`{}`)},
	})

	if outcomes[0].Result.IsError {
		t.Errorf("per-tool override should win over default: %q", outcomes[0].Result.Content)
	}
}

func TestDispatchAll_UnknownTool(t *testing.T) {
	d := NewDispatcher(nil)
	outcomes := d.DispatchAll(context.Background(), NewToolRegistry(), []models.ToolCall{
		{ID: "call-1", Name: "nonexistent", Input: json.RawMessage(`{}`)},
	})

	if !outcomes[0].Result.IsError {
		t.Fatal("unknown tool should be an error result")
	}
	if !strings.Contains(outcomes[0].Result.Content, "tool not found") {
		t.Errorf("content = %q, want not-found text", outcomes[0].Result.Content)
	}
}

func TestDispatchAll_ConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	registry := NewToolRegistry()
	registry.Register(&mockTool{
		name: "counted",
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return &ToolResult{Content: "ok"}, nil
		},
	})

	calls := make([]models.ToolCall, 8)
	for i := range calls {
		calls[i] = models.ToolCall{
			ID:    fmt.Sprintf("call-%d", i),
			Name:  "counted",
			Input: json.RawMessage(`{}`),
		}
	}

	d := NewDispatcher(&DispatchConfig{MaxConcurrency: 2, DefaultTimeout: time.Second})
	d.DispatchAll(context.Background(), registry, calls)

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestDispatchAll_Empty(t *testing.T) {
	d := NewDispatcher(nil)
	if outcomes := d.DispatchAll(context.Background(), NewToolRegistry(), nil); outcomes != nil {
		t.Errorf("outcomes = %v, want nil", outcomes)
	}
}
