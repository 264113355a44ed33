package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSample holds CPU and memory figures for one datastore process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessConfig controls sampling of the datastore's OS processes.
type ProcessConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	MaxHistory int           `mapstructure:"max_history"`
	// Names are executable names treated as datastore processes.
	Names []string `mapstructure:"names"`
}

// ProcessFinder returns the PIDs of datastore processes keyed by name.
type ProcessFinder func(ctx context.Context) (map[int32]string, error)

type ring struct {
	samples []ProcessSample
	start   int
	count   int
}

func (r *ring) add(s ProcessSample) {
	if r.count < len(r.samples) {
		r.samples[r.count] = s
		r.count++
		return
	}
	r.samples[r.start] = s
	r.start = (r.start + 1) % len(r.samples)
}

func (r *ring) list() []ProcessSample {
	out := make([]ProcessSample, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.samples[(r.start+i)%len(r.samples)])
	}
	return out
}

// ProcessCollector periodically samples datastore processes with gopsutil.
type ProcessCollector struct {
	enabled    bool
	interval   time.Duration
	maxHistory int
	find       ProcessFinder

	mu      sync.RWMutex
	history map[int32]*ring
	handles map[int32]*process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

// NewProcessCollector creates a collector. A nil finder matches processes by
// cfg.Names.
func NewProcessCollector(cfg ProcessConfig, find ProcessFinder) *ProcessCollector {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if find == nil {
		find = FindByName(cfg.Names...)
	}
	labels := []string{"name", "pid"}
	return &ProcessCollector{
		enabled:    cfg.Enabled,
		interval:   cfg.Interval,
		maxHistory: cfg.MaxHistory,
		find:       find,
		history:    make(map[int32]*ring),
		handles:    make(map[int32]*process.Process),
		stopCh:     make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dbguest", Subsystem: "process", Name: "cpu_percent",
			Help: "CPU usage percentage of datastore processes.",
		}, labels),
		memoryMB: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dbguest", Subsystem: "process", Name: "memory_mb",
			Help: "Resident memory in MB of datastore processes.",
		}, labels),
		numThreads: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dbguest", Subsystem: "process", Name: "num_threads",
			Help: "Thread count of datastore processes.",
		}, labels),
		numFDs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dbguest", Subsystem: "process", Name: "num_fds",
			Help: "Open file descriptors of datastore processes (Unix only).",
		}, labels),
	}
}

// FindByName returns a finder matching executable names exactly.
func FindByName(names ...string) ProcessFinder {
	return func(ctx context.Context) (map[int32]string, error) {
		procs, err := process.ProcessesWithContext(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[int32]string)
		for _, p := range procs {
			n, err := p.NameWithContext(ctx)
			if err != nil {
				continue
			}
			if slices.Contains(names, n) {
				out[p.Pid] = n
			}
		}
		return out, nil
	}
}

func (c *ProcessCollector) Enabled() bool { return c != nil && c.enabled }

// RegisterMetrics registers the process gauges with r.
func (c *ProcessCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.Enabled() {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, col := range collectors {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (c *ProcessCollector) Start(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(ctx)
			}
		}
	}()
}

// Stop stops sampling and waits for the loop to exit.
func (c *ProcessCollector) Stop() {
	if !c.Enabled() {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every datastore process.
func (c *ProcessCollector) Collect(ctx context.Context) {
	pids, err := c.find(ctx)
	if err != nil {
		slog.Debug("Failed to list datastore processes", "error", err)
		return
	}
	now := time.Now()
	for pid, name := range pids {
		s, err := c.sample(ctx, pid, name, now)
		if err != nil {
			slog.Debug("Failed to collect metrics for process", "name", name, "pid", pid, "error", err)
			continue
		}
		pidLabel := strconv.Itoa(int(pid))
		c.cpuPercent.WithLabelValues(name, pidLabel).Set(s.CPUPercent)
		c.memoryMB.WithLabelValues(name, pidLabel).Set(s.MemoryMB)
		c.numThreads.WithLabelValues(name, pidLabel).Set(float64(s.NumThreads))
		if runtime.GOOS != "windows" && s.NumFDs > 0 {
			c.numFDs.WithLabelValues(name, pidLabel).Set(float64(s.NumFDs))
		}
		c.mu.Lock()
		r, ok := c.history[pid]
		if !ok {
			r = &ring{samples: make([]ProcessSample, c.maxHistory)}
			c.history[pid] = r
		}
		r.add(s)
		c.mu.Unlock()
	}
	c.cleanup(pids)
}

func (c *ProcessCollector) sample(ctx context.Context, pid int32, name string, now time.Time) (ProcessSample, error) {
	c.mu.Lock()
	proc, ok := c.handles[pid]
	if !ok {
		var err error
		proc, err = process.NewProcessWithContext(ctx, pid)
		if err != nil {
			c.mu.Unlock()
			return ProcessSample{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		c.handles[pid] = proc
	}
	c.mu.Unlock()

	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, _ := proc.NumThreadsWithContext(ctx)

	s := ProcessSample{
		PID:        pid,
		Name:       name,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		MemoryVMS:  mem.VMS,
		NumThreads: threads,
		Timestamp:  now,
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDsWithContext(ctx); err == nil {
			s.NumFDs = fds
		}
	}
	return s, nil
}

func (c *ProcessCollector) cleanup(active map[int32]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for pid, r := range c.history {
		if _, ok := active[pid]; ok {
			continue
		}
		if r.count > 0 {
			last := r.list()[r.count-1]
			pidLabel := strconv.Itoa(int(pid))
			c.cpuPercent.DeleteLabelValues(last.Name, pidLabel)
			c.memoryMB.DeleteLabelValues(last.Name, pidLabel)
			c.numThreads.DeleteLabelValues(last.Name, pidLabel)
			c.numFDs.DeleteLabelValues(last.Name, pidLabel)
		}
		delete(c.history, pid)
		delete(c.handles, pid)
	}
}

// Latest returns the most recent sample of every tracked process, ordered by pid.
func (c *ProcessCollector) Latest() []ProcessSample {
	if !c.Enabled() {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ProcessSample, 0, len(c.history))
	for _, r := range c.history {
		if r.count > 0 {
			l := r.list()
			out = append(out, l[len(l)-1])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// History returns the retained samples of pid, oldest first.
func (c *ProcessCollector) History(pid int32) ([]ProcessSample, bool) {
	if !c.Enabled() {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.history[pid]
	if !ok {
		return nil, false
	}
	return r.list(), true
}
