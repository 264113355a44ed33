package volume

import (
	"context"
	"testing"

	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/executor/executortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scripts(calls []executor.Command) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Script())
	}
	return out
}

func TestNewAppliesDefaults(t *testing.T) {
	d := New(executortest.New(), Options{})
	def := DefaultOptions()
	assert.Equal(t, def.FsType, d.Opts.FsType)
	assert.Equal(t, def.StagingDir, d.Opts.StagingDir)
	assert.Equal(t, def.Timeout, d.Opts.Timeout)
}

func TestFormat(t *testing.T) {
	fake := executortest.New()
	d := New(fake, DefaultOptions())
	require.NoError(t, d.Format(context.Background(), "/dev/vdb"))
	assert.Equal(t, []string{"mkfs -F -t ext4 -m 5 /dev/vdb"}, scripts(fake.Calls()))
	assert.True(t, fake.Calls()[0].Root)
}

func TestFormatFailure(t *testing.T) {
	fake := executortest.New().OnFailure("mkfs", 1)
	err := New(fake, DefaultOptions()).Format(context.Background(), "/dev/vdb")
	assert.True(t, executor.IsExecutionError(err))
}

func TestMountWithFstab(t *testing.T) {
	fake := executortest.New()
	d := New(fake, DefaultOptions())
	require.NoError(t, d.Mount(context.Background(), "/dev/vdb", "/var/lib/vertica", true))

	got := scripts(fake.Calls())
	require.Len(t, got, 3)
	assert.Equal(t, "mkdir -p /var/lib/vertica", got[0])
	assert.Equal(t, "mount -t ext4 -o defaults,noatime /dev/vdb /var/lib/vertica", got[1])
	assert.Contains(t, got[2], ">> /etc/fstab")
}

func TestUnmountSkipsWhenNotMounted(t *testing.T) {
	fake := executortest.New()
	d := New(fake, DefaultOptions())
	require.NoError(t, d.Unmount(context.Background(), "/var/lib/vertica"))
	assert.Equal(t, 0, fake.Count("umount"))

	fake.OnOutput("findmnt -n /var/lib/vertica", "/var/lib/vertica /dev/vdb ext4 rw")
	require.NoError(t, d.Unmount(context.Background(), "/var/lib/vertica"))
	assert.Equal(t, 1, fake.Count("umount /var/lib/vertica"))
}

func TestMigrateData(t *testing.T) {
	fake := executortest.New().OnOutput("findmnt -n /mnt/volume", "/mnt/volume")
	d := New(fake, DefaultOptions())
	require.NoError(t, d.MigrateData(context.Background(), "/dev/vdb", "/var/lib/vertica"))

	assert.Equal(t, 1, fake.Count("mount -t ext4 -o defaults,noatime /dev/vdb /mnt/volume"))
	assert.Equal(t, 1, fake.Count("/var/lib/vertica/ /mnt/volume"))
	assert.Equal(t, 1, fake.Count("umount /mnt/volume"))
}

func TestMigrateDataUnmountsOnCopyFailure(t *testing.T) {
	fake := executortest.New().
		OnOutput("findmnt -n /mnt/volume", "/mnt/volume").
		OnFailure("rsync", 23)
	err := New(fake, DefaultOptions()).MigrateData(context.Background(), "/dev/vdb", "/var/lib/vertica")
	require.Error(t, err)
	assert.Equal(t, 1, fake.Count("umount /mnt/volume"))
}

func TestResize(t *testing.T) {
	fake := executortest.New()
	require.NoError(t, New(fake, DefaultOptions()).Resize(context.Background(), "/dev/vdb"))
	assert.Equal(t, []string{"e2fsck -f -p /dev/vdb", "resize2fs /dev/vdb"}, scripts(fake.Calls()))
}
