package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/loykin/dbguest/internal/status"
)

func findFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	SetStatus("db", status.Running)
	RecordTransition("db", status.Shutdown, status.Running)
	IncProbe("db", status.Running)
	IncOperation("start", OutcomeSuccess)
	ObserveOperation("start", 12.5)
	SetOperationInProgress(true)

	for _, n := range []string{
		"dbguest_datastore_status",
		"dbguest_datastore_status_transitions_total",
		"dbguest_datastore_probes_total",
		"dbguest_lifecycle_operations_total",
		"dbguest_lifecycle_operation_duration_seconds",
		"dbguest_lifecycle_operation_in_progress",
	} {
		mf := findFamily(t, reg, n)
		if mf == nil {
			t.Fatalf("expected to find metric %s", n)
		}
		if len(mf.GetMetric()) == 0 {
			t.Fatalf("metric %s has no samples", n)
		}
	}
}

func TestSetStatusIsExclusive(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}

	SetStatus("exclusive", status.Failed)
	SetStatus("exclusive", status.Shutdown)

	mf := findFamily(t, reg, "dbguest_datastore_status")
	if mf == nil {
		t.Fatal("status gauge missing")
	}
	active := 0
	for _, m := range mf.GetMetric() {
		var inst, st string
		for _, l := range m.GetLabel() {
			switch l.GetName() {
			case "instance":
				inst = l.GetValue()
			case "status":
				st = l.GetValue()
			}
		}
		if inst != "exclusive" {
			continue
		}
		if m.GetGauge().GetValue() == 1 {
			active++
			if st != "shutdown" {
				t.Fatalf("unexpected active status %s", st)
			}
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active status, got %d", active)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	// Reset regOK gate to allow registration with the default registry used by Handler().
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncOperation("restart", OutcomeFailure)

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, "dbguest_lifecycle_operations_total") {
		t.Fatalf("metrics output missing operations_total: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncProbe("c", status.Unknown)
			IncOperation("stop", OutcomeBusy)
			SetStatus("c", status.Restarting)
		}()
	}
	wg.Wait()
	// Ensure gather succeeds under race detector
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	SetStatus("test", status.Running)
	RecordTransition("test", status.New, status.Building)
	IncProbe("test", status.Failed)
	IncOperation("prepare", OutcomeSuccess)
	ObserveOperation("prepare", 1.0)
	SetOperationInProgress(false)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
