//go:build !linux && !darwin && !freebsd

package lifecycle

import "errors"

func statFilesystem(path string) (FilesystemStats, error) {
	return FilesystemStats{}, errors.New("filesystem stats are not supported on this platform")
}
