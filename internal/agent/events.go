package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ensembleai/ensemble/pkg/models"
)

// EventSink receives the engine's structured event stream. The engine does
// not depend on any particular sink; implementations must be safe for
// concurrent use and must not block for long, since emission happens on the
// run's goroutine.
type EventSink interface {
	Emit(event models.RunEvent)
}

// NoopSink discards all events.
type NoopSink struct{}

// Emit implements EventSink.
func (NoopSink) Emit(models.RunEvent) {}

// LogSink writes events to a structured logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Emit implements EventSink.
func (s *LogSink) Emit(event models.RunEvent) {
	if s.Logger == nil {
		return
	}
	s.Logger.Debug("run event",
		"type", string(event.Type),
		"run_id", event.RunID,
		"agent", event.Agent,
		"step", event.Step,
		"tool", event.ToolName,
		"tool_call_id", event.ToolCallID,
		"message", event.Message,
	)
}

// CollectorSink buffers events in memory for inspection, primarily in tests
// and the CLI.
type CollectorSink struct {
	mu     sync.Mutex
	events []models.RunEvent
}

// Emit implements EventSink.
func (s *CollectorSink) Emit(event models.RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything emitted so far.
func (s *CollectorSink) Events() []models.RunEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RunEvent, len(s.events))
	copy(out, s.events)
	return out
}

// ByType returns the collected events of one type, in emission order.
func (s *CollectorSink) ByType(t models.RunEventType) []models.RunEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RunEvent
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// Emit implements EventSink.
func (m MultiSink) Emit(event models.RunEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(event)
		}
	}
}

// newEvent builds a run event stamped with the current time.
func newEvent(t models.RunEventType, s *RunState) models.RunEvent {
	return models.RunEvent{
		Type:  t,
		RunID: s.RunID,
		Agent: s.ActiveAgent,
		Step:  s.StepNumber,
		At:    time.Now(),
	}
}
