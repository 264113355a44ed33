package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = ""
	cfg.Commands.StartDB = " "
	cfg.StateChangeWait = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database name")
	assert.Contains(t, err.Error(), "start_db")
	assert.Contains(t, err.Error(), "state_change_wait")
}

func TestRender(t *testing.T) {
	cfg := DefaultConfig()
	got := cfg.render(cfg.Commands.StopDB, params{Password: "pw"})
	assert.Equal(t, "/opt/vertica/bin/adminTools -t stop_db -F -d db_srvr -p 'pw'", got)

	got = cfg.render("{ip} {mount} {package} {license} {unknown}", params{IP: "10.1.1.1"})
	assert.Equal(t, "10.1.1.1 /var/lib/vertica /vertica_7.1.1-0_amd64.deb CE {unknown}", got)
}

func TestFilesystemStats(t *testing.T) {
	s := newFilesystemStats("/data", 4096, 1000, 250)
	assert.Equal(t, uint64(4096*1000), s.TotalBytes)
	assert.Equal(t, uint64(4096*250), s.FreeBytes)
	assert.Equal(t, s.TotalBytes-s.FreeBytes, s.UsedBytes)
	assert.InDelta(t, float64(s.UsedBytes)/(1<<30), s.UsedGB, 1e-9)
}
