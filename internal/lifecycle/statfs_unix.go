//go:build linux || darwin || freebsd

package lifecycle

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func statFilesystem(path string) (FilesystemStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return FilesystemStats{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return newFilesystemStats(path, uint64(st.Bsize), uint64(st.Blocks), uint64(st.Bfree)), nil
}
