package events

import (
	"log/slog"
	"sync"
)

// Event represents a structured state change committed by the escrow core. The
// attribute map carries string-encoded fields so downstream consumers (RPC
// clients, audit sinks, notification services) never need the domain types.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is the default for components that optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(*Event) {}

// CaptureEmitter retains emitted events in order. Intended for tests and for
// draining a bounded window of recent activity.
type CaptureEmitter struct {
	mu     sync.Mutex
	events []*Event
}

// Emit implements the Emitter interface.
func (c *CaptureEmitter) Emit(evt *Event) {
	if c == nil || evt == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

// Events returns a snapshot of everything captured so far.
func (c *CaptureEmitter) Events() []*Event {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Event, len(c.events))
	copy(out, c.events)
	return out
}

// MultiEmitter fans a single event out to every registered emitter.
type MultiEmitter []Emitter

// NewMultiEmitter builds a fan-out emitter, skipping nil entries.
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	out := make(MultiEmitter, 0, len(emitters))
	for _, emitter := range emitters {
		if emitter != nil {
			out = append(out, emitter)
		}
	}
	return out
}

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt *Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// LogEmitter mirrors every event into the structured log.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter wraps a logger; a nil logger falls back to the default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements the Emitter interface.
func (l *LogEmitter) Emit(evt *Event) {
	if l == nil || evt == nil {
		return
	}
	args := make([]any, 0, 2*len(evt.Attributes))
	for key, value := range evt.Attributes {
		args = append(args, key, value)
	}
	l.logger.Info(evt.Type, args...)
}
