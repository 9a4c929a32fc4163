package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventAdd    EventType = "add"
	EventStart  EventType = "start"
	EventStop   EventType = "stop"
	EventRemove EventType = "remove"
)

// Record is the bot snapshot attached to an event.
type Record struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	PID    int    `json:"pid"`
	Status string `json:"status"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send in Recorder.
const DefaultSendTimeout = 2 * time.Second

// Recorder fans events out to a set of sinks. Sink failures are logged and
// never propagate to the lifecycle operation that produced the event.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder returns a recorder over sinks. A nil logger means slog.Default().
func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, timeout: DefaultSendTimeout, logger: logger}
}

// Enabled reports whether at least one sink is configured.
func (r *Recorder) Enabled() bool { return r != nil && len(r.sinks) > 0 }

// Emit sends an event of type t for rec to every sink.
func (r *Recorder) Emit(t EventType, rec Record) {
	if !r.Enabled() {
		return
	}
	e := Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := s.Send(ctx, e); err != nil {
			r.logger.Warn("history sink send failed", "event", t, "bot", rec.Name, "error", err)
		}
		cancel()
	}
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
