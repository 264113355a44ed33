package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/dbguest/internal/status"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	currentStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dbguest",
			Subsystem: "datastore",
			Name:      "status",
			Help:      "Current datastore status (1 = active status, 0 = inactive).",
		}, []string{"instance", "status"},
	)
	statusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbguest",
			Subsystem: "datastore",
			Name:      "status_transitions_total",
			Help:      "Number of transitions between datastore statuses.",
		}, []string{"instance", "from", "to"},
	)
	probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbguest",
			Subsystem: "datastore",
			Name:      "probes_total",
			Help:      "Number of status probes by observed status.",
		}, []string{"instance", "result"},
	)
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbguest",
			Subsystem: "lifecycle",
			Name:      "operations_total",
			Help:      "Number of lifecycle operations by outcome.",
		}, []string{"operation", "outcome"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dbguest",
			Subsystem: "lifecycle",
			Name:      "operation_duration_seconds",
			Help:      "Wall time spent in lifecycle operations.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"operation"},
	)
	operationInProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dbguest",
			Subsystem: "lifecycle",
			Name:      "operation_in_progress",
			Help:      "1 while an install or restart marker is set.",
		},
	)
)

// Outcome labels for operation counters.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeBusy    = "busy"
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{currentStatus, statusTransitions, probes, operations, operationDuration, operationInProgress}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

// SetStatus marks st as the active status of instance and clears the others.
func SetStatus(instance string, st status.ServiceStatus) {
	if !regOK.Load() {
		return
	}
	for _, s := range status.All() {
		var v float64
		if s == st {
			v = 1
		}
		currentStatus.WithLabelValues(instance, s.String()).Set(v)
	}
}

func RecordTransition(instance string, from, to status.ServiceStatus) {
	if regOK.Load() {
		statusTransitions.WithLabelValues(instance, from.String(), to.String()).Inc()
	}
}

func IncProbe(instance string, result status.ServiceStatus) {
	if regOK.Load() {
		probes.WithLabelValues(instance, result.String()).Inc()
	}
}

func IncOperation(op, outcome string) {
	if regOK.Load() {
		operations.WithLabelValues(op, outcome).Inc()
	}
}

func ObserveOperation(op string, seconds float64) {
	if regOK.Load() {
		operationDuration.WithLabelValues(op).Observe(seconds)
	}
}

func SetOperationInProgress(active bool) {
	if regOK.Load() {
		var v float64
		if active {
			v = 1
		}
		operationInProgress.Set(v)
	}
}
