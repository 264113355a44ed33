package pkgmgr

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/executor/executortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInstalled(t *testing.T) {
	fake := executortest.New().
		OnOutput("dpkg-query -W -f=${Status} vertica", "install ok installed").
		OnOutput("dpkg-query -W -f=${Status} half", "deinstall ok config-files").
		OnFailure("dpkg-query -W -f=${Status} missing", 1).
		OnFailure("dpkg-query -W -f=${Status} broken", 2)
	a := NewApt(fake)
	ctx := context.Background()

	ok, err := a.IsInstalled(ctx, []string{"vertica"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.IsInstalled(ctx, []string{"vertica", "half"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.IsInstalled(ctx, []string{"missing"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = a.IsInstalled(ctx, []string{"broken"})
	assert.True(t, executor.IsExecutionError(err))

	ok, err = a.IsInstalled(ctx, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInstall(t *testing.T) {
	fake := executortest.New()
	a := NewApt(fake)

	require.NoError(t, a.Install(context.Background(), []string{"vertica", "/vertica_7.1.1-0_amd64.deb", " "}, time.Minute))
	calls := fake.Calls()
	require.Len(t, calls, 2)

	assert.Equal(t, []string{"dpkg", "-i", "/vertica_7.1.1-0_amd64.deb"}, calls[0].Argv)
	assert.Equal(t, []string{"apt-get", "install", "-y", "--no-install-recommends", "vertica"}, calls[1].Argv)
	assert.Contains(t, calls[1].Env, "DEBIAN_FRONTEND=noninteractive")
	assert.Equal(t, time.Minute, calls[1].Timeout)
	assert.True(t, calls[1].Root)
}

func TestInstallNothing(t *testing.T) {
	fake := executortest.New()
	require.NoError(t, NewApt(fake).Install(context.Background(), nil, time.Second))
	assert.Empty(t, fake.Calls())
}

func TestInstallFailure(t *testing.T) {
	fake := executortest.New().OnFailure("apt-get", 100)
	err := NewApt(fake).Install(context.Background(), []string{"vertica"}, time.Second)
	require.Error(t, err)
	assert.True(t, executor.IsExecutionError(err))
}
