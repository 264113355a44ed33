package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/dbguest/internal/status"
)

// EventType defines the kind of status event.
type EventType string

const (
	// EventStatus records a reconciled status observed by a probe.
	EventStatus EventType = "status"
	// EventOperation records the outcome of a lifecycle operation.
	EventOperation EventType = "operation"
)

// Event is a status change exported to a durable store or analytics system.
type Event struct {
	ID         string               `json:"id"`
	Type       EventType            `json:"type"`
	OccurredAt time.Time            `json:"occurred_at"`
	Instance   string               `json:"instance"`
	Status     status.ServiceStatus `json:"status"`
	Operation  string               `json:"operation,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// NewEvent stamps a new event with a random id and the current time.
func NewEvent(t EventType, instance string, st status.ServiceStatus, operation string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Instance:   instance,
		Status:     st,
		Operation:  operation,
	}
}

// WithError returns a copy of e carrying err's message.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Sink is a destination for status events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Querier is implemented by sinks that can read events back.
type Querier interface {
	Recent(ctx context.Context, instance string, limit int) ([]Event, error)
}

// Recorder fans events out to every configured sink.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
}

// NewRecorder returns a recorder writing to sinks, each bounded by timeout.
func NewRecorder(timeout time.Duration, sinks ...Sink) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{sinks: append([]Sink(nil), sinks...), timeout: timeout}
}

// Enabled reports whether at least one sink is configured.
func (r *Recorder) Enabled() bool { return r != nil && len(r.sinks) > 0 }

// Record sends e to all sinks. A failing sink does not stop the others; all
// failures are joined into the returned error.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if !r.Enabled() {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Send(sctx, e)
		cancel()
		if err != nil {
			slog.Warn("Failed to record status event", "instance", e.Instance, "status", e.Status.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recent reads events back from the first sink that supports queries.
func (r *Recorder) Recent(ctx context.Context, instance string, limit int) ([]Event, error) {
	if r != nil {
		for _, s := range r.sinks {
			if q, ok := s.(Querier); ok {
				return q.Recent(ctx, instance, limit)
			}
		}
	}
	return nil, ErrNoQuerier
}

// ErrNoQuerier is returned by Recent when no sink can be queried.
var ErrNoQuerier = errors.New("no queryable history sink configured")

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
