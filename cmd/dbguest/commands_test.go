package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/dbguest"
	"github.com/loykin/dbguest/internal/auth"
	"github.com/loykin/dbguest/internal/credential"
	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/executor/executortest"
	"github.com/loykin/dbguest/pkg/client"
)

// startAgent serves a fake-backed agent and returns its API URL.
func startAgent(t *testing.T, mutate func(*dbguest.Config)) (string, *executortest.Fake) {
	t.Helper()
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

	cfg := dbguest.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.History.DSNs = []string{"sqlite://:memory:"}
	cfg.Status.PollInterval = 10 * time.Millisecond
	cfg.Datastore.StateChangeWait = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	creds := credential.NewMemoryStore()
	require.NoError(t, creds.Write(context.Background(), "pw"))
	agent, err := dbguest.New(cfg, dbguest.WithRunner(fake), dbguest.WithCredentialStore(creds))
	require.NoError(t, err)
	t.Cleanup(func() { _ = agent.Recorder.Close() })

	ts := httptest.NewServer(agent.Handler())
	t.Cleanup(ts.Close)
	return ts.URL + "/api", fake
}

func run(t *testing.T, sessions *SessionManager, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := buildRoot(&out, strings.NewReader(stdin), sessions)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func tempSessions(t *testing.T) *SessionManager {
	return NewSessionManagerAt(t.TempDir())
}

func TestStatusAndStart(t *testing.T) {
	url, fake := startAgent(t, nil)
	sessions := tempSessions(t)

	out, err := run(t, sessions, "", "update-status", "--api-url", url)
	require.NoError(t, err, out)
	var st client.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "shutdown", st.Status)

	out, err = run(t, sessions, "", "start", "--persist", "--api-url", url)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "running", st.Status)
	assert.Equal(t, 1, fake.Count("start_db"))

	out, err = run(t, sessions, "", "history", "--limit", "5", "--api-url", url)
	require.NoError(t, err, out)
	var events []client.Event
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	assert.NotEmpty(t, events)
}

func TestStopWhenAlreadyDown(t *testing.T) {
	url, fake := startAgent(t, nil)
	out, err := run(t, tempSessions(t), "", "stop", "--do-not-start-on-reboot", "--api-url", url)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"shutdown"`)
	assert.Equal(t, 1, fake.Count("stop_db"))
}

func TestPrepareNeedsExactlyOneSource(t *testing.T) {
	_, err := loadPrepareRequest(PrepareFlags{})
	assert.Error(t, err)
	_, err = loadPrepareRequest(PrepareFlags{File: "a.json", Template: "minimal"})
	assert.Error(t, err)

	req, err := loadPrepareRequest(PrepareFlags{Template: "minimal", Database: "analytics"})
	require.NoError(t, err)
	require.Len(t, req.Databases, 1)
	assert.Equal(t, "analytics", req.Databases[0].Name)
}

func TestPrepareFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prepare.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"packages":["vertica"],"databases":[{"name":"db_srvr"}],"memory_mb":2048}`), 0o600))
	req, err := loadPrepareRequest(PrepareFlags{File: path})
	require.NoError(t, err)
	assert.Equal(t, []string{"vertica"}, req.Packages)
	assert.Equal(t, 2048, req.MemoryMB)

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0o600))
	_, err = loadPrepareRequest(PrepareFlags{File: path})
	assert.Error(t, err)
}

func TestVolumeRequiresDevice(t *testing.T) {
	_, err := run(t, tempSessions(t), "", "volume", "mount")
	assert.Error(t, err)
}

func TestTemplateCreate(t *testing.T) {
	sessions := tempSessions(t)
	out, err := run(t, sessions, "", "template", "create", "--type", "full")
	require.NoError(t, err)
	assert.Contains(t, out, `"databases"`)

	path := filepath.Join(t.TempDir(), "prepare.json")
	_, err = run(t, sessions, "", "template", "create", "--type", "minimal", "-o", path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = run(t, sessions, "", "template", "create", "--type", "minimal", "-o", path)
	assert.Error(t, err)
	_, err = run(t, sessions, "", "template", "create", "--type", "minimal", "-o", path, "--force")
	assert.NoError(t, err)

	_, err = run(t, sessions, "", "template", "create", "--type", "nope")
	assert.Error(t, err)
}

func TestHashPasswordFromStdin(t *testing.T) {
	out, err := run(t, tempSessions(t), "s3cret\n", "auth", "hash-password")
	require.NoError(t, err)
	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestLoginLogout(t *testing.T) {
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	url, _ := startAgent(t, func(c *dbguest.Config) {
		c.Server.Auth = auth.Config{
			Enabled: true,
			Users:   []auth.Principal{{Name: "ops", SecretHash: hash, Roles: []string{"operator"}}},
		}
	})
	sessions := tempSessions(t)

	_, err = run(t, sessions, "", "status", "--api-url", url)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)

	_, err = run(t, sessions, "", "login", "--api-url", url, "--user", "ops", "--password", "pw")
	require.NoError(t, err)
	assert.True(t, sessions.IsLoggedIn())

	// the session supplies both the URL and the token
	out, err := run(t, sessions, "", "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, `"status"`)

	_, err = run(t, sessions, "", "logout")
	require.NoError(t, err)
	assert.False(t, sessions.IsLoggedIn())
}

func TestVersion(t *testing.T) {
	out, err := run(t, tempSessions(t), "", "version")
	require.NoError(t, err)
	assert.Equal(t, "dbguest dev\n", out)
}
