// Package periodic drives background tasks from a cron tick.
package periodic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the tick schedule.
type Config struct {
	// Schedule is a cron expression or descriptor, e.g. "@every 10s".
	Schedule string `mapstructure:"schedule"`
	TimeZone string `mapstructure:"time_zone"`
}

// DefaultSchedule ticks every ten seconds.
const DefaultSchedule = "@every 10s"

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Task runs on every TicksBetweenRuns-th tick.
type Task struct {
	Name             string
	TicksBetweenRuns int
	Run              func(ctx context.Context)
}

type task struct {
	Task
	ticks int
	runs  int
}

// Runner ticks on a cron schedule and runs the tasks that are due. A tick
// that arrives while the previous one is still running is skipped.
type Runner struct {
	schedule cron.Schedule
	expr     string
	cron     *cron.Cron

	mu      sync.Mutex
	tasks   []*task
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(cfg Config) (*Runner, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}
	opts := []cron.Option{
		cron.WithParser(parser),
		cron.WithLogger(slogLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(slogLogger{})),
	}
	if cfg.TimeZone != "" {
		loc, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", cfg.TimeZone, err)
		}
		opts = append(opts, cron.WithLocation(loc))
	}
	return &Runner{schedule: sched, expr: cfg.Schedule, cron: cron.New(opts...)}, nil
}

// Add registers t. Tasks cannot be added after Start.
func (r *Runner) Add(t Task) error {
	if t.Run == nil {
		return errors.New("periodic task requires a function")
	}
	if t.TicksBetweenRuns <= 0 {
		t.TicksBetweenRuns = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("periodic task %s added after start", t.Name)
	}
	r.tasks = append(r.tasks, &task{Task: t})
	return nil
}

// Start begins ticking. Tasks receive a context cancelled by Stop or by
// cancellation of ctx.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("periodic runner already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Schedule(r.schedule, cron.FuncJob(func() { r.Tick(r.ctx) }))
	r.cron.Start()
	r.started = true
	slog.Info("Periodic tasks scheduled", "schedule", r.expr, "tasks", len(r.tasks))
	return nil
}

// Stop stops ticking and waits for a running tick to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	<-r.cron.Stop().Done()
	slog.Info("Periodic tasks stopped")
}

// Tick advances every task by one tick and runs those that are due.
func (r *Runner) Tick(ctx context.Context) {
	r.mu.Lock()
	var due []*task
	for _, t := range r.tasks {
		t.ticks++
		if t.ticks >= t.TicksBetweenRuns {
			t.ticks = 0
			t.runs++
			due = append(due, t)
		}
	}
	r.mu.Unlock()

	for _, t := range due {
		if ctx.Err() != nil {
			return
		}
		slog.Debug("Running periodic task", "task", t.Name)
		t.Run(ctx)
	}
}

// Runs returns how many times the named task has been run.
func (r *Runner) Runs(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.Name == name {
			return t.runs
		}
	}
	return 0
}

// Next returns the time of the next scheduled tick after now.
func (r *Runner) Next(now time.Time) time.Time { return r.schedule.Next(now) }

// slogLogger routes cron's logging through slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
