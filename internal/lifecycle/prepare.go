package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/dbguest/internal/credential"
	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/status"
)

// DatabaseSpec names a database the caller wants created.
type DatabaseSpec struct {
	Name         string `json:"name"`
	CharacterSet string `json:"character_set,omitempty"`
	Collate      string `json:"collate,omitempty"`
}

// UserSpec describes a database user requested at prepare time.
type UserSpec struct {
	Name      string   `json:"name"`
	Password  string   `json:"password,omitempty"`
	Host      string   `json:"host,omitempty"`
	Databases []string `json:"databases,omitempty"`
}

// PrepareRequest carries everything needed to turn a fresh guest into a
// running datastore.
type PrepareRequest struct {
	Packages       []string       `json:"packages"`
	Databases      []DatabaseSpec `json:"databases,omitempty"`
	MemoryMB       int            `json:"memory_mb,omitempty"`
	Users          []UserSpec     `json:"users,omitempty"`
	DevicePath     string         `json:"device_path,omitempty"`
	MountPoint     string         `json:"mount_point,omitempty"`
	ConfigContents string         `json:"config_contents,omitempty"`
	RootPassword   string         `json:"root_password,omitempty"`
	Overrides      map[string]any `json:"overrides,omitempty"`
	ClusterConfig  map[string]any `json:"cluster_config,omitempty"`
}

// Prepare installs the datastore and creates the database. The first
// failing step aborts the rest and leaves the status FAILED, as does a
// database that never reports RUNNING after creation. The BUILDING marker is
// set on entry and always cleared before Prepare returns.
func (c *Controller) Prepare(ctx context.Context, req PrepareRequest) error {
	return c.exclusive(ctx, "prepare", func(ctx context.Context) (err error) {
		slog.Info("Preparing datastore", "database", c.cfg.Database, "packages", req.Packages,
			"databases", len(req.Databases), "users", len(req.Users), "memory_mb", req.MemoryMB)
		if len(req.ClusterConfig) > 0 {
			slog.Warn("Ignoring cluster configuration, only single-node guests are managed")
		}

		if err := c.deps.Monitor.BeginInstall(); err != nil {
			return err
		}
		defer func() {
			c.deps.Monitor.EndInstallOrRestart(ctx)
			if err != nil {
				c.deps.Monitor.SetStatus(status.Failed)
			}
		}()

		if req.DevicePath != "" {
			if err := c.prepareDevice(ctx, req.DevicePath, c.mountPoint(req.MountPoint)); err != nil {
				return err
			}
		}
		if err := c.InstallIfNeeded(ctx, req.Packages); err != nil {
			return err
		}
		if err := c.prepareForInstall(ctx); err != nil {
			return err
		}
		if err := c.installDatabase(ctx); err != nil {
			return err
		}
		if err := c.createDatabase(ctx); err != nil {
			return err
		}
		if req.ConfigContents != "" {
			if err := c.writeConfig(ctx, req.ConfigContents); err != nil {
				return err
			}
		}
		if !c.deps.Monitor.WaitForStatusChange(ctx, status.Running, c.cfg.StateChangeWait, false) {
			return &TimeoutError{Op: "prepare", Target: status.Running, Timeout: c.cfg.StateChangeWait}
		}
		slog.Info("Prepare finished", "database", c.cfg.Database)
		return nil
	})
}

func (c *Controller) mountPoint(requested string) string {
	if requested != "" {
		return requested
	}
	return c.cfg.MountPoint
}

// prepareDevice formats device, carries over any existing data under
// mountPoint and mounts it there.
func (c *Controller) prepareDevice(ctx context.Context, device, mountPoint string) error {
	v := c.deps.Volumes
	if v == nil {
		return errors.New("device requested but no volume manager configured")
	}
	if err := v.Unmount(ctx, device); err != nil {
		return fmt.Errorf("unmount %s: %w", device, err)
	}
	if err := v.Format(ctx, device); err != nil {
		return fmt.Errorf("format %s: %w", device, err)
	}
	if _, statErr := os.Stat(mountPoint); statErr == nil {
		if err := v.MigrateData(ctx, device, mountPoint); err != nil {
			return fmt.Errorf("migrate %s: %w", mountPoint, err)
		}
	}
	if err := v.Mount(ctx, device, mountPoint, true); err != nil {
		return fmt.Errorf("mount %s: %w", device, err)
	}
	slog.Info("Mounted the volume", "device", device, "mount_point", mountPoint)
	return nil
}

// InstallIfNeeded installs packages unless all of them are present.
func (c *Controller) InstallIfNeeded(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return nil
	}
	ok, err := c.deps.Packages.IsInstalled(ctx, packages)
	if err != nil {
		return fmt.Errorf("check packages: %w", err)
	}
	if ok {
		slog.Debug("Packages already installed", "packages", packages)
		return nil
	}
	slog.Info("Installing packages", "packages", packages)
	if err := c.deps.Packages.Install(ctx, packages, c.cfg.InstallTimeout); err != nil {
		return fmt.Errorf("install packages: %w", err)
	}
	return nil
}

// prepareForInstall coerces the host into the layout the installer expects.
func (c *Controller) prepareForInstall(ctx context.Context) error {
	script := strings.Fields(c.cfg.Commands.LocalCoerce)
	if len(script) == 0 {
		return nil
	}
	cmd := executor.AsRoot(script...).
		WithEnv(
			"VERT_DBA_USR="+c.cfg.AdminUser,
			"VERT_DBA_HOME="+c.cfg.AdminHome,
			"VERT_DBA_GRP="+c.cfg.AdminGroup,
		).
		WithTimeout(c.cfg.CommandTimeout)
	if _, err := c.deps.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("prepare for install: %w", err)
	}
	return nil
}

// installDatabase runs the datastore installer and stores a freshly
// generated admin password.
func (c *Controller) installDatabase(ctx context.Context) error {
	ip, err := c.deps.Addresses.Address(c.cfg.Interface)
	if err != nil {
		return fmt.Errorf("resolve address of %s: %w", c.cfg.Interface, err)
	}
	slog.Info("Installing datastore", "address", ip, "mount_point", c.cfg.MountPoint)
	cmd := executor.AsUser("root", c.cfg.render(c.cfg.Commands.Install, params{IP: ip})).
		WithTimeout(c.cfg.InstallTimeout)
	if _, err := c.deps.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("install datastore: %w", err)
	}

	password, err := credential.GeneratePassword(credential.DefaultPasswordLength)
	if err != nil {
		return fmt.Errorf("generate admin password: %w", err)
	}
	if err := c.deps.Credentials.Write(ctx, password); err != nil {
		return err
	}
	slog.Info("Datastore installed", "database", c.cfg.Database)
	return nil
}

func (c *Controller) createDatabase(ctx context.Context) error {
	password, err := c.deps.Credentials.Read(ctx)
	if err != nil {
		return err
	}
	ip, err := c.deps.Addresses.Address(c.cfg.Interface)
	if err != nil {
		return fmt.Errorf("resolve address of %s: %w", c.cfg.Interface, err)
	}
	slog.Info("Creating database", "database", c.cfg.Database)
	cmd := c.adminCommand(c.cfg.Commands.CreateDB, params{IP: ip, Password: password}).
		WithTimeout(c.cfg.InstallTimeout)
	if _, err := c.deps.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return nil
}

func (c *Controller) writeConfig(ctx context.Context, contents string) error {
	if c.cfg.ConfigFile == "" {
		slog.Warn("Ignoring configuration contents, no config_file set")
		return nil
	}
	slog.Info("Writing datastore configuration", "path", c.cfg.ConfigFile)
	tmp := filepath.Join(os.TempDir(), filepath.Base(c.cfg.ConfigFile)+".tmp")
	return credential.WriteAtomic(ctx, c.deps.Runner, c.cfg.ConfigFile, tmp, contents)
}
