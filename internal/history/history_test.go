package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/dbguest/internal/status"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Recent(_ context.Context, instance string, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].Instance == instance {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

type writeOnlySink struct{ n int }

func (w *writeOnlySink) Send(context.Context, Event) error { w.n++; return nil }

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventStatus, "db_srvr", status.Running, "probe")
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, EventStatus, e.Type)
	assert.Equal(t, status.Running, e.Status)
	assert.WithinDuration(t, time.Now(), e.OccurredAt, time.Second)
	assert.Empty(t, e.Error)

	assert.Equal(t, "boom", e.WithError(errors.New("boom")).Error)
	assert.Empty(t, e.WithError(nil).Error)

	other := NewEvent(EventStatus, "db_srvr", status.Running, "probe")
	assert.NotEqual(t, e.ID, other.ID)
}

func TestRecorderFanout(t *testing.T) {
	good := &memSink{}
	bad := &memSink{err: errors.New("down")}
	wo := &writeOnlySink{}
	r := NewRecorder(time.Second, bad, good, wo)
	require.True(t, r.Enabled())

	err := r.Record(context.Background(), NewEvent(EventOperation, "db", status.Failed, "start"))
	require.Error(t, err)
	assert.Len(t, good.events, 1)
	assert.Equal(t, 1, wo.n)
}

func TestRecorderDisabled(t *testing.T) {
	var r *Recorder
	assert.False(t, r.Enabled())
	assert.NoError(t, r.Record(context.Background(), Event{}))
	assert.NoError(t, r.Close())

	_, err := r.Recent(context.Background(), "db", 10)
	assert.ErrorIs(t, err, ErrNoQuerier)
}

func TestRecorderRecent(t *testing.T) {
	wo := &writeOnlySink{}
	mem := &memSink{}
	r := NewRecorder(0, wo, mem)
	ctx := context.Background()
	require.NoError(t, r.Record(ctx, NewEvent(EventStatus, "db", status.Shutdown, "probe")))
	require.NoError(t, r.Record(ctx, NewEvent(EventStatus, "db", status.Running, "probe")))
	require.NoError(t, r.Record(ctx, NewEvent(EventStatus, "other", status.Failed, "probe")))

	got, err := r.Recent(ctx, "db", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, status.Running, got[0].Status)

	require.NoError(t, r.Close())
	assert.True(t, mem.closed)
}
