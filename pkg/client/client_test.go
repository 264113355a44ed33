package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/dbguest/internal/auth"
	"github.com/loykin/dbguest/internal/history"
	"github.com/loykin/dbguest/internal/lifecycle"
	"github.com/loykin/dbguest/internal/monitor"
	"github.com/loykin/dbguest/internal/server"
	"github.com/loykin/dbguest/internal/status"
)

type stubController struct {
	mu    sync.Mutex
	st    status.ServiceStatus
	err   error
	calls []string
}

func (s *stubController) set(st status.ServiceStatus, call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.err != nil {
		return s.err
	}
	s.st = st
	return nil
}

func (s *stubController) Prepare(context.Context, lifecycle.PrepareRequest) error {
	return s.set(status.Running, "prepare")
}
func (s *stubController) Start(context.Context, bool) error { return s.set(status.Running, "start") }
func (s *stubController) Stop(context.Context, bool, bool) error {
	return s.set(status.Shutdown, "stop")
}
func (s *stubController) Restart(context.Context) error { return s.set(status.Running, "restart") }
func (s *stubController) UpdateStatus(context.Context)  { _ = s.set(s.st, "update") }
func (s *stubController) Snapshot() monitor.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return monitor.Snapshot{Status: s.st, UpdatedAt: time.Now()}
}
func (s *stubController) History(context.Context, int) ([]history.Event, error) {
	return []history.Event{history.NewEvent(history.EventOperation, "db_srvr", status.Running, "start")}, nil
}
func (s *stubController) MountVolume(context.Context, string, string) error {
	return s.set(s.st, "mount")
}
func (s *stubController) UnmountVolume(context.Context, string, string) error {
	return s.set(s.st, "unmount")
}
func (s *stubController) ResizeFS(context.Context, string, string) error {
	return s.set(s.st, "resize")
}
func (s *stubController) FilesystemStats(path string) (lifecycle.FilesystemStats, error) {
	return lifecycle.FilesystemStats{Path: path, TotalBytes: 10}, nil
}

func newTestClient(t *testing.T, ctrl *stubController) *Client {
	t.Helper()
	return newTestClientWith(t, ctrl, server.Options{})
}

func newTestClientWith(t *testing.T, ctrl *stubController, opts server.Options) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	opts.BasePath, opts.Instance = "/api", "db_srvr"
	ts := httptest.NewServer(server.NewRouter(ctrl, opts).Handler())
	t.Cleanup(ts.Close)
	c, err := New(Config{BaseURL: ts.URL + "/api"})
	require.NoError(t, err)
	c.cfg.Timeout = 5 * time.Second
	return c
}

func TestLifecycleRoundTrip(t *testing.T) {
	ctrl := &stubController{st: status.Shutdown}
	c := newTestClient(t, ctrl)
	ctx := context.Background()

	assert.True(t, c.IsReachable(ctx))

	st, err := c.Start(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, "db_srvr", st.Instance)

	st, err = c.Stop(ctx, StopOptions{DoNotStartOnReboot: true})
	require.NoError(t, err)
	assert.Equal(t, "shutdown", st.Status)

	_, err = c.Restart(ctx)
	require.NoError(t, err)
	_, err = c.Prepare(ctx, PrepareRequest{Packages: []string{"vertica"}})
	require.NoError(t, err)
	st, err = c.UpdateStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)

	st, err = c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.OperationInProgress)

	assert.Equal(t, []string{"start", "stop", "restart", "prepare", "update"}, ctrl.calls)
}

func TestQueries(t *testing.T) {
	c := newTestClient(t, &stubController{st: status.Running})
	ctx := context.Background()

	events, err := c.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "start", events[0].Operation)

	fs, err := c.Filesystem(ctx, "/var/lib/vertica")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/vertica", fs.Path)

	require.NoError(t, c.MountVolume(ctx, VolumeRequest{Device: "/dev/vdb", MountPoint: "/mnt"}))
	require.NoError(t, c.UnmountVolume(ctx, VolumeRequest{Device: "/dev/vdb"}))
	require.NoError(t, c.ResizeFS(ctx, VolumeRequest{Device: "/dev/vdb"}))

	err = c.MountVolume(ctx, VolumeRequest{Device: "vdb"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "input", apiErr.Kind)
}

func TestErrorClassification(t *testing.T) {
	ctrl := &stubController{err: lifecycle.ErrOperationInProgress}
	c := newTestClient(t, ctrl)
	_, err := c.Restart(context.Background())
	assert.True(t, IsBusy(err))
	assert.False(t, IsTimeout(err))

	ctrl.err = &lifecycle.TimeoutError{Op: "start", Target: status.Running, Timeout: time.Second}
	_, err = c.Start(context.Background(), false)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, err.Error(), "could not start")
}

func TestUnreachable(t *testing.T) {
	c, err := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second})
	require.NoError(t, err)
	assert.False(t, c.IsReachable(context.Background()))
}

func TestBadCACert(t *testing.T) {
	_, err := New(Config{TLS: &TLSClientConfig{CACert: "/nonexistent/ca.crt"}})
	assert.Error(t, err)
}

func TestLoginDisabled(t *testing.T) {
	c := newTestClient(t, &stubController{})
	_, err := c.Login(context.Background(), "ops", "pw")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}

func TestLoginThenToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	svc, err := auth.NewService(auth.Config{
		Enabled: true,
		Users:   []auth.Principal{{Name: "ops", SecretHash: string(hash), Roles: []string{"operator"}}},
	})
	require.NoError(t, err)
	c := newTestClientWith(t, &stubController{st: status.Running}, server.Options{Auth: auth.NewMiddleware(svc)})
	ctx := context.Background()

	_, err = c.Status(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)

	res, err := c.Login(ctx, "ops", "pw")
	require.NoError(t, err)
	assert.Equal(t, "ops", res.Subject)

	c.cfg.Token = res.Token.Value
	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "running", st.Status)
}
