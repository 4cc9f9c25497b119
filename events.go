package flowstone

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Event types emitted over the run lifecycle.
const (
	EventExecutorInvoked       = "executor_invoked"
	EventExecutorCompleted     = "executor_completed"
	EventExecutorFailed        = "executor_failed"
	EventWorkflowStatusChanged = "workflow_status_changed"
	EventDecisionRequired      = "decision_required"
	EventWorkflowOutput        = "workflow_output"
)

// Event is one lifecycle event. Events marshal to a flat JSON object with
// only the fields relevant to their type populated.
type Event struct {
	Type         string          `json:"type"`
	ExecutorID   string          `json:"executor_id,omitempty"`
	Status       Status          `json:"status,omitempty"`
	RequestID    string          `json:"request_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	CheckpointID *string         `json:"checkpoint_id,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// EventSink consumes lifecycle events. Implementations must be safe for
// concurrent use; Emit is called from the runner goroutine only, but a run
// and an observer may share a sink.
type EventSink interface {
	Emit(event Event)
}

func newEvent(eventType string) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC()}
}

// NullSink discards all events.
type NullSink struct{}

func NewNullSink() *NullSink {
	return &NullSink{}
}

func (s *NullSink) Emit(event Event) {}

// ChannelSink forwards events to a channel, recovering the event-stream form
// of the lifecycle contract. Emit drops the event if the channel is full so a
// slow consumer cannot stall the runner.
type ChannelSink struct {
	ch chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Close closes the channel. Call only after the run has returned.
func (s *ChannelSink) Close() {
	close(s.ch)
}

func (s *ChannelSink) Emit(event Event) {
	select {
	case s.ch <- event:
	default:
	}
}

// CollectorSink records every event in order. Intended for tests.
type CollectorSink struct {
	events []Event
}

func NewCollectorSink() *CollectorSink {
	return &CollectorSink{}
}

func (s *CollectorSink) Emit(event Event) {
	s.events = append(s.events, event)
}

// Events returns the recorded events in emission order.
func (s *CollectorSink) Events() []Event {
	return s.events
}

// OfType returns the recorded events of the given type, in emission order.
func (s *CollectorSink) OfType(eventType string) []Event {
	var out []Event
	for _, e := range s.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// LogSink writes each event to a structured logger at info level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(event Event) {
	attrs := []any{"type", event.Type}
	if event.ExecutorID != "" {
		attrs = append(attrs, "executor_id", event.ExecutorID)
	}
	if event.Status != "" {
		attrs = append(attrs, "status", string(event.Status))
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	s.logger.Info("workflow event", attrs...)
}

// MultiSink fans one event out to several sinks.
type MultiSink struct {
	sinks []EventSink
}

func NewMultiSink(sinks ...EventSink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Emit(event Event) {
	for _, sink := range s.sinks {
		sink.Emit(event)
	}
}
