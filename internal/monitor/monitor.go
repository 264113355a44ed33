// Package monitor tracks the reconciled status of the local datastore.
//
// The status is derived from a two-step probe against the datastore's admin
// tool, except while an install or restart marker is set: in that window the
// periodic Update leaves the transient BUILDING or RESTARTING status alone and
// only the owning operation's own polling reconciles it.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/history"
	"github.com/loykin/dbguest/internal/metrics"
	"github.com/loykin/dbguest/internal/status"
)

// DefaultPollInterval is the pause between probes in WaitForStatusChange.
const DefaultPollInterval = 2 * time.Second

var (
	// ErrOperationInProgress is returned when a lifecycle operation is
	// started while another one still holds the marker.
	ErrOperationInProgress = errors.New("another lifecycle operation is in progress")
	// ErrProbeInconclusive means neither probe identified the database.
	ErrProbeInconclusive = errors.New("status probe inconclusive")
)

// Config describes how the datastore is probed.
type Config struct {
	// Database is the identifier the admin tool reports for our database.
	Database string
	// AdminUser is the OS user the probe commands run as.
	AdminUser string
	// ActiveQuery prints the name of the active database, or nothing.
	ActiveQuery string
	// DownQuery prints the name of the database when it is cleanly down.
	DownQuery    string
	ProbeTimeout time.Duration
	PollInterval time.Duration
}

// Snapshot is a consistent view of the monitor state.
type Snapshot struct {
	Status              status.ServiceStatus `json:"status"`
	OperationInProgress bool                 `json:"operation_in_progress"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Monitor probes the datastore and holds its reconciled status.
type Monitor struct {
	cfg      Config
	runner   executor.Runner
	recorder *history.Recorder

	mu         sync.RWMutex
	current    status.ServiceStatus
	inProgress bool
	updatedAt  time.Time
	// gen changes whenever the marker is set or cleared so that a periodic
	// probe started before the change is discarded.
	gen uint64
}

// New creates a monitor in status NEW. recorder may be nil.
func New(cfg Config, runner executor.Runner, recorder *history.Recorder) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = executor.DefaultTimeout
	}
	return &Monitor{cfg: cfg, runner: runner, recorder: recorder, current: status.New}
}

// Probe runs the two-step status query without touching the stored status.
// Execution failures yield FAILED with the error; an inconclusive result
// yields UNKNOWN with ErrProbeInconclusive.
func (m *Monitor) Probe(ctx context.Context) (status.ServiceStatus, error) {
	st, err := m.probe(ctx)
	metrics.IncProbe(m.cfg.Database, st)
	return st, err
}

func (m *Monitor) probe(ctx context.Context) (status.ServiceStatus, error) {
	active, err := m.query(ctx, m.cfg.ActiveQuery)
	if err != nil {
		return status.Failed, err
	}
	switch active {
	case m.cfg.Database:
		return status.Running, nil
	case "":
	default:
		return status.Unknown, fmt.Errorf("%w: active database is %q", ErrProbeInconclusive, active)
	}

	down, err := m.query(ctx, m.cfg.DownQuery)
	if err != nil {
		return status.Failed, err
	}
	if down == m.cfg.Database {
		return status.Shutdown, nil
	}
	return status.Unknown, ErrProbeInconclusive
}

func (m *Monitor) query(ctx context.Context, script string) (string, error) {
	cmd := executor.AsUser(m.cfg.AdminUser, script).WithTimeout(m.cfg.ProbeTimeout)
	res, err := m.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Update probes the datastore and stores the result. It never fails; an
// execution failure is stored as FAILED. Update is a no-op while an install
// or restart marker is set, and when ctx is cancelled before the probe ends.
func (m *Monitor) Update(ctx context.Context) {
	m.mu.RLock()
	busy, gen := m.inProgress, m.gen
	m.mu.RUnlock()
	if busy {
		slog.Debug("Skipping status update, operation in progress", "database", m.cfg.Database)
		return
	}

	st, err := m.Probe(ctx)
	if ctx.Err() != nil {
		return
	}
	m.logProbe(st, err)

	m.mu.Lock()
	if m.inProgress || m.gen != gen {
		m.mu.Unlock()
		return
	}
	prev := m.setLocked(st)
	m.mu.Unlock()

	if m.changed(prev, st) {
		m.persist(ctx, st, "update")
	}
}

// reconcile probes and stores the result regardless of the marker.
func (m *Monitor) reconcile(ctx context.Context) status.ServiceStatus {
	st, err := m.Probe(ctx)
	if ctx.Err() != nil {
		return m.Status()
	}
	m.logProbe(st, err)
	m.mu.Lock()
	prev := m.setLocked(st)
	m.mu.Unlock()
	m.changed(prev, st)
	return st
}

func (m *Monitor) logProbe(st status.ServiceStatus, err error) {
	switch {
	case err == nil:
		slog.Debug("Probed datastore status", "database", m.cfg.Database, "status", st.String())
	case errors.Is(err, ErrProbeInconclusive):
		slog.Info("Datastore status is unknown", "database", m.cfg.Database, "reason", err)
	default:
		slog.Error("Status probe failed", "database", m.cfg.Database, "error", err)
	}
}

func (m *Monitor) setLocked(st status.ServiceStatus) status.ServiceStatus {
	prev := m.current
	m.current = st
	m.updatedAt = time.Now()
	return prev
}

// changed publishes a transition and reports whether one happened.
func (m *Monitor) changed(prev, st status.ServiceStatus) bool {
	metrics.SetStatus(m.cfg.Database, st)
	if prev == st {
		return false
	}
	metrics.RecordTransition(m.cfg.Database, prev, st)
	slog.Info("Service status changed", "database", m.cfg.Database, "from", prev.String(), "to", st.String())
	return true
}

func (m *Monitor) persist(ctx context.Context, st status.ServiceStatus, source string) {
	if !m.recorder.Enabled() {
		return
	}
	e := history.NewEvent(history.EventStatus, m.cfg.Database, st, source)
	_ = m.recorder.Record(context.WithoutCancel(ctx), e)
}

// WaitForStatusChange polls the datastore until it reports target or timeout
// elapses, and reports whether target was observed. Each probe is cut off at
// timeout plus one poll interval, so the call never blocks past that. With
// persist set the final status is written to the history sinks.
func (m *Monitor) WaitForStatusChange(ctx context.Context, target status.ServiceStatus, timeout time.Duration, persist bool) bool {
	deadline := time.Now().Add(timeout)
	var st status.ServiceStatus
	reached := false

loop:
	for {
		probeCtx, cancel := context.WithDeadline(ctx, deadline.Add(m.cfg.PollInterval))
		st = m.reconcile(probeCtx)
		cancel()
		if st == target {
			reached = true
			break
		}
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		timer := time.NewTimer(min(m.cfg.PollInterval, left))
		select {
		case <-ctx.Done():
			timer.Stop()
			break loop
		case <-timer.C:
		}
	}

	if !reached {
		slog.Warn("Timed out waiting for status", "database", m.cfg.Database, "target", target.String(),
			"last", st.String(), "timeout", timeout)
	}
	if persist {
		m.persist(ctx, st, "wait")
	}
	return reached
}

// BeginInstall sets the marker and the status BUILDING.
func (m *Monitor) BeginInstall() error { return m.begin(status.Building) }

// BeginRestart sets the marker and the status RESTARTING.
func (m *Monitor) BeginRestart() error { return m.begin(status.Restarting) }

func (m *Monitor) begin(st status.ServiceStatus) error {
	m.mu.Lock()
	if m.inProgress {
		m.mu.Unlock()
		return ErrOperationInProgress
	}
	m.inProgress = true
	m.gen++
	prev := m.setLocked(st)
	m.mu.Unlock()

	metrics.SetOperationInProgress(true)
	m.changed(prev, st)
	return nil
}

// EndInstallOrRestart clears the marker and re-probes the datastore.
func (m *Monitor) EndInstallOrRestart(ctx context.Context) {
	m.mu.Lock()
	m.inProgress = false
	m.gen++
	m.mu.Unlock()

	metrics.SetOperationInProgress(false)
	m.reconcile(ctx)
}

// SetStatus overwrites the status, e.g. to FAILED after an operation error.
func (m *Monitor) SetStatus(st status.ServiceStatus) {
	m.mu.Lock()
	prev := m.setLocked(st)
	m.mu.Unlock()
	m.changed(prev, st)
}

// Status returns the last stored status.
func (m *Monitor) Status() status.ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OperationInProgress reports whether an install or restart marker is set.
func (m *Monitor) OperationInProgress() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inProgress
}

// Snapshot returns the status, marker and update time read together.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{Status: m.current, OperationInProgress: m.inProgress, UpdatedAt: m.updatedAt}
}
