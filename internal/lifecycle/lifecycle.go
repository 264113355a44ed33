// Package lifecycle sequences prepare, start, stop and restart of the local
// datastore against the status monitor.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/dbguest/internal/credential"
	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/history"
	"github.com/loykin/dbguest/internal/metrics"
	"github.com/loykin/dbguest/internal/monitor"
	"github.com/loykin/dbguest/internal/netif"
	"github.com/loykin/dbguest/internal/pkgmgr"
	"github.com/loykin/dbguest/internal/status"
	"github.com/loykin/dbguest/internal/volume"
)

// ErrOperationInProgress is returned when an operation is requested while
// another one is running.
var ErrOperationInProgress = monitor.ErrOperationInProgress

// TimeoutError reports that the datastore did not reach the target status
// within the configured wait.
type TimeoutError struct {
	Op      string
	Target  status.ServiceStatus
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("could not %s: status %s not reached within %s", e.Op, e.Target, e.Timeout)
}

// StatusMonitor is the status tracking the controller drives.
type StatusMonitor interface {
	Update(ctx context.Context)
	WaitForStatusChange(ctx context.Context, target status.ServiceStatus, timeout time.Duration, persist bool) bool
	BeginInstall() error
	BeginRestart() error
	EndInstallOrRestart(ctx context.Context)
	SetStatus(st status.ServiceStatus)
	Status() status.ServiceStatus
	OperationInProgress() bool
	Snapshot() monitor.Snapshot
}

// Deps are the collaborators of a Controller. Volumes, Addresses and
// Recorder are optional.
type Deps struct {
	Monitor     StatusMonitor
	Runner      executor.Runner
	Credentials credential.Store
	Packages    pkgmgr.Manager
	Volumes     volume.Manager
	Addresses   netif.Resolver
	Recorder    *history.Recorder
}

// Controller runs lifecycle operations. Prepare, Start, Stop and Restart
// are serialised; a call made while another is running fails with
// ErrOperationInProgress.
type Controller struct {
	cfg  Config
	deps Deps
	opMu sync.Mutex
}

// New validates cfg and returns a controller over deps. Monitor, Runner,
// Credentials and Packages are required; Addresses defaults to the host's
// interfaces.
func New(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lifecycle config: %w", err)
	}
	if deps.Monitor == nil || deps.Runner == nil || deps.Credentials == nil || deps.Packages == nil {
		return nil, errors.New("lifecycle: monitor, runner, credentials and packages are required")
	}
	if deps.Addresses == nil {
		deps.Addresses = netif.NewSystem()
	}
	return &Controller{cfg: cfg, deps: deps}, nil
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() Config { return c.cfg }

// Status returns the last reconciled status.
func (c *Controller) Status() status.ServiceStatus { return c.deps.Monitor.Status() }

// Snapshot returns the status together with the operation marker.
func (c *Controller) Snapshot() monitor.Snapshot { return c.deps.Monitor.Snapshot() }

// History returns the most recent recorded events for this database,
// newest first.
func (c *Controller) History(ctx context.Context, limit int) ([]history.Event, error) {
	return c.deps.Recorder.Recent(ctx, c.cfg.Database, limit)
}

// UpdateStatus runs one periodic probe.
func (c *Controller) UpdateStatus(ctx context.Context) { c.deps.Monitor.Update(ctx) }

// exclusive runs fn under the operation lock and records its outcome.
func (c *Controller) exclusive(ctx context.Context, op string, fn func(context.Context) error) error {
	if !c.opMu.TryLock() {
		metrics.IncOperation(op, metrics.OutcomeBusy)
		return ErrOperationInProgress
	}
	defer c.opMu.Unlock()

	slog.Info("Lifecycle operation started", "operation", op, "database", c.cfg.Database)
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	metrics.ObserveOperation(op, elapsed.Seconds())

	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, ErrOperationInProgress):
		outcome = metrics.OutcomeBusy
		slog.Warn("Lifecycle operation rejected", "operation", op, "error", err)
	case err != nil:
		outcome = metrics.OutcomeFailure
		slog.Error("Lifecycle operation failed", "operation", op, "duration", elapsed, "error", err)
	default:
		slog.Info("Lifecycle operation finished", "operation", op, "duration", elapsed)
	}
	metrics.IncOperation(op, outcome)

	if c.deps.Recorder.Enabled() {
		e := history.NewEvent(history.EventOperation, c.cfg.Database, c.deps.Monitor.Status(), op).WithError(err)
		_ = c.deps.Recorder.Record(context.WithoutCancel(ctx), e)
	}
	return err
}

func (c *Controller) adminCommand(tmpl string, p params) executor.Command {
	return executor.AsUser(c.cfg.AdminUser, c.cfg.render(tmpl, p)).
		WithTimeout(c.cfg.CommandTimeout).
		WithSecrets(p.Password)
}

// Start starts the database and waits for it to report RUNNING. On failure
// the status is left FAILED.
func (c *Controller) Start(ctx context.Context, persist bool) error {
	return c.exclusive(ctx, "start", func(ctx context.Context) error {
		return c.start(ctx, persist, true)
	})
}

// Stop stops the database and waits for it to report SHUTDOWN. On failure
// the status is left FAILED. doNotStartOnReboot is accepted for callers
// that pass it; no autostart facility exists on the guest to disable.
func (c *Controller) Stop(ctx context.Context, persist, doNotStartOnReboot bool) error {
	return c.exclusive(ctx, "stop", func(ctx context.Context) error {
		if doNotStartOnReboot {
			slog.Info("Stop requested without restart on reboot", "database", c.cfg.Database)
		}
		return c.stop(ctx, persist, true)
	})
}

// Restart stops and starts the database under the RESTARTING marker. The
// marker is cleared exactly once whether or not a step fails.
func (c *Controller) Restart(ctx context.Context) error {
	return c.exclusive(ctx, "restart", func(ctx context.Context) (err error) {
		if err := c.deps.Monitor.BeginRestart(); err != nil {
			return err
		}
		defer func() {
			c.deps.Monitor.EndInstallOrRestart(ctx)
			if err != nil {
				c.deps.Monitor.SetStatus(status.Failed)
			}
		}()
		if err := c.stop(ctx, false, false); err != nil {
			return err
		}
		return c.start(ctx, false, false)
	})
}

func (c *Controller) start(ctx context.Context, persist, ownMarker bool) error {
	slog.Info("Starting datastore", "database", c.cfg.Database)
	return c.transition(ctx, "start", c.cfg.Commands.StartDB, status.Running, persist, ownMarker)
}

func (c *Controller) stop(ctx context.Context, persist, ownMarker bool) error {
	slog.Info("Stopping datastore", "database", c.cfg.Database)
	return c.transition(ctx, "stop", c.cfg.Commands.StopDB, status.Shutdown, persist, ownMarker)
}

// transition runs an admin command and waits for target. When ownMarker is
// set a failure also clears the marker and leaves the status FAILED;
// otherwise the enclosing operation does both.
func (c *Controller) transition(ctx context.Context, op, tmpl string, target status.ServiceStatus, persist, ownMarker bool) error {
	err := c.runTransition(ctx, op, tmpl, target, persist)
	if err != nil && ownMarker {
		c.deps.Monitor.EndInstallOrRestart(ctx)
		c.deps.Monitor.SetStatus(status.Failed)
	}
	return err
}

func (c *Controller) runTransition(ctx context.Context, op, tmpl string, target status.ServiceStatus, persist bool) error {
	password, err := c.deps.Credentials.Read(ctx)
	if err != nil {
		return fmt.Errorf("could not %s: %w", op, err)
	}
	if _, err := c.deps.Runner.Run(ctx, c.adminCommand(tmpl, params{Password: password})); err != nil {
		return fmt.Errorf("could not %s: %w", op, err)
	}
	if !c.deps.Monitor.WaitForStatusChange(ctx, target, c.cfg.StateChangeWait, persist) {
		return &TimeoutError{Op: op, Target: target, Timeout: c.cfg.StateChangeWait}
	}
	return nil
}
