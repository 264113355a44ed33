package dbguest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/dbguest/internal/credential"
	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/executor/executortest"
	"github.com/loykin/dbguest/internal/status"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.History.DSNs = []string{"sqlite://:memory:"}
	cfg.Status.PollInterval = 10 * time.Millisecond
	cfg.Datastore.StateChangeWait = 200 * time.Millisecond
	return cfg
}

func newTestAgent(t *testing.T, fake *executortest.Fake) *Agent {
	t.Helper()
	creds := credential.NewMemoryStore()
	require.NoError(t, creds.Write(context.Background(), "pw"))
	a, err := New(testConfig(), WithRunner(fake), WithCredentialStore(creds))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Recorder.Close() })
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Datastore.Database = ""
	_, err := New(cfg, WithRunner(executortest.New()))
	assert.Error(t, err)
}

func TestAgentStartThroughHandler(t *testing.T) {
	fake := executortest.New()
	var running atomic.Bool
	fake.On("show_active_db", func(executor.Command) (executor.Result, error) {
		if running.Load() {
			return executor.Result{Stdout: "db_srvr\n"}, nil
		}
		return executor.Result{}, nil
	})
	fake.OnOutput("db_status -s DOWN", "db_srvr\n")
	fake.On("start_db", func(executor.Command) (executor.Result, error) {
		running.Store(true)
		return executor.Result{}, nil
	})
	a := newTestAgent(t, fake)

	a.Controller.UpdateStatus(context.Background())
	assert.Equal(t, status.Shutdown, a.Controller.Status())

	h := a.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/start?persist=true", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])

	events, err := a.Controller.History(context.Background(), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestAgent(t, executortest.New())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, status.Unknown, a.Controller.Status())
}

func TestNewHTTPServer(t *testing.T) {
	a := newTestAgent(t, executortest.New())
	srv := NewHTTPServer("127.0.0.1:0", a)
	assert.Equal(t, "127.0.0.1:0", srv.Addr)
	assert.NotNil(t, srv.Handler)
}

func TestPeriodicUpdateRunsEveryNTicks(t *testing.T) {
	fake := executortest.New()
	fake.OnOutput("show_active_db", "db_srvr\n")
	a := newTestAgent(t, fake)
	ctx := context.Background()

	a.periodic.Tick(ctx)
	a.periodic.Tick(ctx)
	assert.Equal(t, 0, a.periodic.Runs(updateTask))
	assert.Equal(t, 0, fake.Count("show_active_db"))
	assert.Equal(t, status.New, a.Controller.Status())

	a.periodic.Tick(ctx)
	assert.Equal(t, 1, a.periodic.Runs(updateTask))
	assert.Equal(t, 1, fake.Count("show_active_db"))
	assert.Equal(t, status.Running, a.Controller.Status())
}
