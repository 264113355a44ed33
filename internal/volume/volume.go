// Package volume prepares the block device that holds the database files.
package volume

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/dbguest/internal/executor"
)

// Manager formats, mounts and resizes the data volume.
type Manager interface {
	Format(ctx context.Context, device string) error
	Mount(ctx context.Context, device, mountPoint string, writeToFstab bool) error
	Unmount(ctx context.Context, target string) error
	MigrateData(ctx context.Context, device, sourceDir string) error
	Resize(ctx context.Context, device string) error
}

// Options controls filesystem creation and mounting.
type Options struct {
	FsType        string        `mapstructure:"fs_type"`
	FormatOpts    string        `mapstructure:"format_options"`
	MountOpts     string        `mapstructure:"mount_options"`
	StagingDir    string        `mapstructure:"staging_dir"`
	FstabPath     string        `mapstructure:"fstab_path"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ResizeTimeout time.Duration `mapstructure:"resize_timeout"`
}

// DefaultOptions mirrors a typical ext4 data volume.
func DefaultOptions() Options {
	return Options{
		FsType:        "ext4",
		FormatOpts:    "-m 5",
		MountOpts:     "defaults,noatime",
		StagingDir:    "/mnt/volume",
		FstabPath:     "/etc/fstab",
		Timeout:       2 * time.Minute,
		ResizeTimeout: 10 * time.Minute,
	}
}

// Device runs the standard Linux tools (mkfs, mount, rsync, resize2fs)
// through a privileged runner.
type Device struct {
	Runner executor.Runner
	Opts   Options
}

func New(r executor.Runner, opts Options) *Device {
	def := DefaultOptions()
	if opts.FsType == "" {
		opts.FsType = def.FsType
	}
	if opts.MountOpts == "" {
		opts.MountOpts = def.MountOpts
	}
	if opts.StagingDir == "" {
		opts.StagingDir = def.StagingDir
	}
	if opts.FstabPath == "" {
		opts.FstabPath = def.FstabPath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ResizeTimeout <= 0 {
		opts.ResizeTimeout = def.ResizeTimeout
	}
	return &Device{Runner: r, Opts: opts}
}

func (d *Device) run(ctx context.Context, timeout time.Duration, argv ...string) (executor.Result, error) {
	return d.Runner.Run(ctx, executor.AsRoot(argv...).WithTimeout(timeout))
}

func (d *Device) Format(ctx context.Context, device string) error {
	argv := []string{"mkfs", "-F", "-t", d.Opts.FsType}
	argv = append(argv, strings.Fields(d.Opts.FormatOpts)...)
	argv = append(argv, device)
	slog.Info("Formatting volume", "device", device, "fs_type", d.Opts.FsType)
	if _, err := d.run(ctx, d.Opts.Timeout, argv...); err != nil {
		return fmt.Errorf("format %s: %w", device, err)
	}
	return nil
}

// mounted reports whether target (device or mount point) is currently mounted.
func (d *Device) mounted(ctx context.Context, target string) bool {
	res, err := d.run(ctx, d.Opts.Timeout, "findmnt", "-n", target)
	return err == nil && strings.TrimSpace(res.Stdout) != ""
}

func (d *Device) Mount(ctx context.Context, device, mountPoint string, writeToFstab bool) error {
	if _, err := d.run(ctx, d.Opts.Timeout, "mkdir", "-p", mountPoint); err != nil {
		return fmt.Errorf("create mount point %s: %w", mountPoint, err)
	}
	if _, err := d.run(ctx, d.Opts.Timeout, "mount", "-t", d.Opts.FsType, "-o", d.Opts.MountOpts, device, mountPoint); err != nil {
		return fmt.Errorf("mount %s on %s: %w", device, mountPoint, err)
	}
	if writeToFstab {
		line := fmt.Sprintf("%s\t%s\t%s\t%s\t0\t0", device, mountPoint, d.Opts.FsType, d.Opts.MountOpts)
		script := fmt.Sprintf("grep -qs '^%s\\s' %s || echo '%s' >> %s", device, d.Opts.FstabPath, line, d.Opts.FstabPath)
		if _, err := d.run(ctx, d.Opts.Timeout, "sh", "-c", script); err != nil {
			return fmt.Errorf("update %s: %w", d.Opts.FstabPath, err)
		}
	}
	slog.Info("Mounted volume", "device", device, "mount_point", mountPoint)
	return nil
}

// Unmount is a no-op when target is not mounted.
func (d *Device) Unmount(ctx context.Context, target string) error {
	if !d.mounted(ctx, target) {
		slog.Debug("Volume not mounted", "target", target)
		return nil
	}
	if _, err := d.run(ctx, d.Opts.Timeout, "umount", target); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	slog.Info("Unmounted volume", "target", target)
	return nil
}

// MigrateData copies sourceDir onto device through a staging mount.
func (d *Device) MigrateData(ctx context.Context, device, sourceDir string) error {
	staging := d.Opts.StagingDir
	if err := d.Mount(ctx, device, staging, false); err != nil {
		return err
	}
	_, err := d.run(ctx, d.Opts.ResizeTimeout, "rsync", "--safe-links", "--perms", "--recursive", "--owner", "--group", "--xattrs", "--sparse",
		strings.TrimRight(sourceDir, "/")+"/", staging)
	if uerr := d.Unmount(ctx, staging); uerr != nil && err == nil {
		err = uerr
	}
	if err != nil {
		return fmt.Errorf("migrate %s to %s: %w", sourceDir, device, err)
	}
	return nil
}

func (d *Device) Resize(ctx context.Context, device string) error {
	if _, err := d.run(ctx, d.Opts.ResizeTimeout, "e2fsck", "-f", "-p", device); err != nil {
		return fmt.Errorf("check filesystem on %s: %w", device, err)
	}
	if _, err := d.run(ctx, d.Opts.ResizeTimeout, "resize2fs", device); err != nil {
		return fmt.Errorf("resize filesystem on %s: %w", device, err)
	}
	slog.Info("Resized filesystem", "device", device)
	return nil
}
