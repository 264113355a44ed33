// Package dbguest embeds the guest lifecycle agent: it wires the status
// monitor, lifecycle controller, periodic status refresh, history sinks,
// metrics and the HTTP API from a single Config.
package dbguest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/dbguest/internal/auth"
	"github.com/loykin/dbguest/internal/config"
	"github.com/loykin/dbguest/internal/credential"
	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/history"
	"github.com/loykin/dbguest/internal/history/factory"
	"github.com/loykin/dbguest/internal/lifecycle"
	"github.com/loykin/dbguest/internal/metrics"
	"github.com/loykin/dbguest/internal/monitor"
	"github.com/loykin/dbguest/internal/periodic"
	"github.com/loykin/dbguest/internal/pkgmgr"
	"github.com/loykin/dbguest/internal/server"
	"github.com/loykin/dbguest/internal/status"
	"github.com/loykin/dbguest/internal/tls"
	"github.com/loykin/dbguest/internal/volume"
)

// Re-export the types embedders need.
type (
	Config         = config.Config
	ServiceStatus  = status.ServiceStatus
	PrepareRequest = lifecycle.PrepareRequest
	Snapshot       = monitor.Snapshot
	TimeoutError   = lifecycle.TimeoutError
	Runner         = executor.Runner
)

var ErrOperationInProgress = lifecycle.ErrOperationInProgress

// updateTask is the periodic status refresh.
const updateTask = "update_status"

// Agent owns every component of a running guest agent.
type Agent struct {
	cfg        Config
	Monitor    *monitor.Monitor
	Controller *lifecycle.Controller
	Recorder   *history.Recorder
	Processes  *metrics.ProcessCollector
	periodic   *periodic.Runner
	auth       *auth.Middleware
}

// Option customises New.
type Option func(*options)

type options struct {
	runner executor.Runner
	creds  credential.Store
}

// WithRunner replaces the shell runner, e.g. with a fake in tests.
func WithRunner(r executor.Runner) Option { return func(o *options) { o.runner = r } }

// WithCredentialStore replaces the file-backed credential store.
func WithCredentialStore(s credential.Store) Option { return func(o *options) { o.creds = s } }

func LoadConfig(path string) (Config, error) { return config.Load(path) }

func DefaultConfig() Config { return config.Default() }

// New builds an agent from cfg. Nothing runs until Run is called.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.runner == nil {
		o.runner = executor.NewShellRunner(cfg.Executor.RootHelper)
	}
	if o.creds == nil {
		o.creds = credential.NewFileStore(cfg.Credential.Path, cfg.Credential.TempPath, o.runner)
	}

	rec, err := factory.NewRecorder(cfg.History.DSNs, cfg.History.Timeout)
	if err != nil {
		return nil, err
	}
	mon := monitor.New(cfg.MonitorConfig(), o.runner, rec)
	ctrl, err := lifecycle.New(cfg.Datastore, lifecycle.Deps{
		Monitor:     mon,
		Runner:      o.runner,
		Credentials: o.creds,
		Packages:    pkgmgr.NewApt(o.runner),
		Volumes:     volume.New(o.runner, cfg.Volume),
		Recorder:    rec,
	})
	if err != nil {
		_ = rec.Close()
		return nil, err
	}

	pr, err := periodic.New(cfg.Status.Periodic())
	if err != nil {
		_ = rec.Close()
		return nil, err
	}
	if err := pr.Add(periodic.Task{
		Name:             updateTask,
		TicksBetweenRuns: cfg.Status.TicksBetweenRuns,
		Run:              ctrl.UpdateStatus,
	}); err != nil {
		_ = rec.Close()
		return nil, err
	}

	a := &Agent{
		cfg:        cfg,
		Monitor:    mon,
		Controller: ctrl,
		Recorder:   rec,
		Processes:  metrics.NewProcessCollector(cfg.Metrics.Process, nil),
		periodic:   pr,
	}
	if cfg.Server.Auth.Enabled {
		svc, err := auth.NewService(cfg.Server.Auth)
		if err != nil {
			_ = rec.Close()
			return nil, err
		}
		a.auth = auth.NewMiddleware(svc)
	}
	return a, nil
}

func (a *Agent) Config() Config { return a.cfg }

// Handler returns the API handler for embedding in another server.
func (a *Agent) Handler() http.Handler {
	return server.NewRouter(a.Controller, server.Options{
		BasePath:  a.cfg.Server.BasePath,
		Instance:  a.cfg.Datastore.Database,
		Auth:      a.auth,
		Processes: a.Processes,
		Metrics:   a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen == "",
	}).Handler()
}

// Run takes an initial probe, starts the periodic refresh, process sampling
// and the configured listeners, and blocks until ctx is cancelled or a
// listener fails.
func (a *Agent) Run(ctx context.Context) error {
	defer func() { _ = a.Recorder.Close() }()

	if a.cfg.Metrics.Enabled {
		if err := RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		if err := a.Processes.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.Controller.UpdateStatus(ctx)
	slog.Info("Initial status", "database", a.cfg.Datastore.Database, "status", a.Controller.Status().String())

	if err := a.periodic.Start(ctx); err != nil {
		return err
	}
	defer a.periodic.Stop()
	a.Processes.Start(ctx)
	defer a.Processes.Stop()

	var servers []*http.Server
	if a.cfg.Server.Enabled {
		tlsCfg, err := tls.Setup(a.cfg.Server.TLS)
		if err != nil {
			return fmt.Errorf("server TLS: %w", err)
		}
		servers = append(servers, server.New(a.cfg.Server.Listen, a.Handler(), tlsCfg))
	}
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, server.New(a.cfg.Metrics.Listen, mux, nil))
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) { errCh <- server.Serve(ctx, srv) }(srv)
	}
	var errs []error
	for range servers {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
			cancel()
		}
	}
	if len(servers) == 0 {
		<-ctx.Done()
	}
	return errors.Join(errs...)
}

// RegisterMetrics registers the agent's collectors with r.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// NewHTTPServer returns an unstarted server for the agent API.
func NewHTTPServer(addr string, a *Agent) *http.Server {
	return server.New(addr, a.Handler(), nil)
}
