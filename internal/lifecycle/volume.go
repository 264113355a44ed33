package lifecycle

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoVolumes is returned by volume operations when no volume manager is wired.
var ErrNoVolumes = errors.New("no volume manager configured")

// MountVolume mounts device at mountPoint without touching fstab.
func (c *Controller) MountVolume(ctx context.Context, device, mountPoint string) error {
	if c.deps.Volumes == nil {
		return ErrNoVolumes
	}
	mountPoint = c.mountPoint(mountPoint)
	if err := c.deps.Volumes.Mount(ctx, device, mountPoint, false); err != nil {
		return err
	}
	slog.Info("Mounted the volume", "device", device, "mount_point", mountPoint)
	return nil
}

// UnmountVolume unmounts whatever is mounted at mountPoint.
func (c *Controller) UnmountVolume(ctx context.Context, device, mountPoint string) error {
	if c.deps.Volumes == nil {
		return ErrNoVolumes
	}
	mountPoint = c.mountPoint(mountPoint)
	if err := c.deps.Volumes.Unmount(ctx, mountPoint); err != nil {
		return err
	}
	slog.Info("Unmounted the volume", "device", device, "mount_point", mountPoint)
	return nil
}

// ResizeFS grows the filesystem on device to fill it.
func (c *Controller) ResizeFS(ctx context.Context, device, mountPoint string) error {
	if c.deps.Volumes == nil {
		return ErrNoVolumes
	}
	if err := c.deps.Volumes.Resize(ctx, device); err != nil {
		return err
	}
	slog.Info("Resized the filesystem", "device", device, "mount_point", c.mountPoint(mountPoint))
	return nil
}

// FilesystemStats describes capacity of the filesystem holding a path.
type FilesystemStats struct {
	Path        string  `json:"path"`
	BlockSize   uint64  `json:"block_size"`
	TotalBlocks uint64  `json:"total_blocks"`
	FreeBlocks  uint64  `json:"free_blocks"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalGB     float64 `json:"total"`
	FreeGB      float64 `json:"free"`
	UsedGB      float64 `json:"used"`
}

func newFilesystemStats(path string, blockSize, total, free uint64) FilesystemStats {
	const gb = 1 << 30
	s := FilesystemStats{
		Path:        path,
		BlockSize:   blockSize,
		TotalBlocks: total,
		FreeBlocks:  free,
		TotalBytes:  blockSize * total,
		FreeBytes:   blockSize * free,
	}
	s.UsedBytes = s.TotalBytes - s.FreeBytes
	s.TotalGB = float64(s.TotalBytes) / gb
	s.FreeGB = float64(s.FreeBytes) / gb
	s.UsedGB = float64(s.UsedBytes) / gb
	return s
}

// FilesystemStats reports usage of the filesystem holding path, or of the
// datastore mount point when path is empty.
func (c *Controller) FilesystemStats(path string) (FilesystemStats, error) {
	return statFilesystem(c.mountPoint(path))
}
