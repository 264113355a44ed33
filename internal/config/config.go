// Package config loads the agent's TOML configuration with viper.
//
// Every key has a default, so an empty file (or no file) yields a usable
// single-node Vertica setup. Any key can be overridden from the
// environment as DBGUEST_<SECTION>_<KEY>, e.g. DBGUEST_DATASTORE_DATABASE.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/dbguest/internal/auth"
	"github.com/loykin/dbguest/internal/lifecycle"
	"github.com/loykin/dbguest/internal/logger"
	"github.com/loykin/dbguest/internal/metrics"
	"github.com/loykin/dbguest/internal/monitor"
	"github.com/loykin/dbguest/internal/periodic"
	"github.com/loykin/dbguest/internal/tls"
	"github.com/loykin/dbguest/internal/volume"
	"github.com/spf13/viper"
)

const EnvPrefix = "DBGUEST"

type Config struct {
	Datastore  lifecycle.Config `mapstructure:"datastore"`
	Status     StatusConfig     `mapstructure:"status"`
	Credential CredentialConfig `mapstructure:"credential"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Volume     volume.Options   `mapstructure:"volume"`
	History    HistoryConfig    `mapstructure:"history"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Log        logger.Config    `mapstructure:"log"`
}

// StatusConfig drives the periodic status refresh.
type StatusConfig struct {
	Schedule         string        `mapstructure:"schedule"`
	TimeZone         string        `mapstructure:"time_zone"`
	TicksBetweenRuns int           `mapstructure:"ticks_between_runs"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
}

func (s StatusConfig) Periodic() periodic.Config {
	return periodic.Config{Schedule: s.Schedule, TimeZone: s.TimeZone}
}

type CredentialConfig struct {
	Path     string `mapstructure:"path"`
	TempPath string `mapstructure:"temp_path"`
}

type ExecutorConfig struct {
	// RootHelper prefixes privileged commands, "sudo" by default. Empty
	// runs them directly, for an agent that already runs as root.
	RootHelper string `mapstructure:"root_helper"`
}

type HistoryConfig struct {
	// DSNs lists status history sinks, e.g. sqlite:///var/lib/dbguest/history.db.
	DSNs    []string      `mapstructure:"dsns"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Enabled  bool        `mapstructure:"enabled"`
	Listen   string      `mapstructure:"listen"`
	BasePath string      `mapstructure:"base_path"`
	TLS      tls.Config  `mapstructure:"tls"`
	Auth     auth.Config `mapstructure:"auth"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on its own port; empty mounts it on the API server.
	Listen  string                `mapstructure:"listen"`
	Process metrics.ProcessConfig `mapstructure:"process"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Datastore: lifecycle.DefaultConfig(),
		Status: StatusConfig{
			Schedule:         periodic.DefaultSchedule,
			TicksBetweenRuns: 3,
			PollInterval:     monitor.DefaultPollInterval,
			ProbeTimeout:     time.Minute,
		},
		Credential: CredentialConfig{Path: "/etc/vertica.cnf", TempPath: "/tmp/vertica.tmp"},
		Executor:   ExecutorConfig{RootHelper: "sudo"},
		Volume:     volume.DefaultOptions(),
		History:    HistoryConfig{Timeout: 5 * time.Second},
		Server: ServerConfig{
			Enabled:  true,
			Listen:   "127.0.0.1:8778",
			BasePath: "/api",
			Auth:     auth.Config{TokenTTL: time.Hour},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Process: metrics.ProcessConfig{
				Interval:   5 * time.Second,
				MaxHistory: 100,
				Names:      []string{"vertica", "spread"},
			},
		},
		Log: logger.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper, d Config) {
	ds := d.Datastore
	for k, val := range map[string]any{
		"datastore.database":               ds.Database,
		"datastore.admin_user":             ds.AdminUser,
		"datastore.admin_home":             ds.AdminHome,
		"datastore.admin_group":            ds.AdminGroup,
		"datastore.interface":              ds.Interface,
		"datastore.mount_point":            ds.MountPoint,
		"datastore.package_file":           ds.PackageFile,
		"datastore.license":                ds.License,
		"datastore.config_file":            ds.ConfigFile,
		"datastore.state_change_wait":      ds.StateChangeWait,
		"datastore.install_timeout":        ds.InstallTimeout,
		"datastore.command_timeout":        ds.CommandTimeout,
		"datastore.commands.active_db":     ds.Commands.ActiveDB,
		"datastore.commands.database_down": ds.Commands.DatabaseDown,
		"datastore.commands.start_db":      ds.Commands.StartDB,
		"datastore.commands.stop_db":       ds.Commands.StopDB,
		"datastore.commands.create_db":     ds.Commands.CreateDB,
		"datastore.commands.install":       ds.Commands.Install,
		"datastore.commands.local_coerce":  ds.Commands.LocalCoerce,
		"status.schedule":                  d.Status.Schedule,
		"status.time_zone":                 d.Status.TimeZone,
		"status.ticks_between_runs":        d.Status.TicksBetweenRuns,
		"status.poll_interval":             d.Status.PollInterval,
		"status.probe_timeout":             d.Status.ProbeTimeout,
		"credential.path":                  d.Credential.Path,
		"credential.temp_path":             d.Credential.TempPath,
		"executor.root_helper":             d.Executor.RootHelper,
		"volume.fs_type":                   d.Volume.FsType,
		"volume.format_options":            d.Volume.FormatOpts,
		"volume.mount_options":             d.Volume.MountOpts,
		"volume.staging_dir":               d.Volume.StagingDir,
		"volume.fstab_path":                d.Volume.FstabPath,
		"volume.timeout":                   d.Volume.Timeout,
		"volume.resize_timeout":            d.Volume.ResizeTimeout,
		"history.dsns":                     d.History.DSNs,
		"history.timeout":                  d.History.Timeout,
		"server.enabled":                   d.Server.Enabled,
		"server.listen":                    d.Server.Listen,
		"server.base_path":                 d.Server.BasePath,
		"server.tls.enabled":               d.Server.TLS.Enabled,
		"server.tls.cert_file":             d.Server.TLS.CertFile,
		"server.tls.key_file":              d.Server.TLS.KeyFile,
		"server.tls.dir":                   d.Server.TLS.Dir,
		"server.tls.auto_generate":         d.Server.TLS.AutoGenerate,
		"server.tls.min_version":           d.Server.TLS.MinVersion,
		"server.tls.max_version":           d.Server.TLS.MaxVersion,
		"server.auth.enabled":              d.Server.Auth.Enabled,
		"server.auth.jwt_secret":           d.Server.Auth.JWTSecret,
		"server.auth.token_ttl":            d.Server.Auth.TokenTTL,
		"metrics.enabled":                  d.Metrics.Enabled,
		"metrics.listen":                   d.Metrics.Listen,
		"metrics.process.enabled":          d.Metrics.Process.Enabled,
		"metrics.process.interval":         d.Metrics.Process.Interval,
		"metrics.process.max_history":      d.Metrics.Process.MaxHistory,
		"metrics.process.names":            d.Metrics.Process.Names,
		"log.level":                        d.Log.Level,
		"log.format":                       d.Log.Format,
		"log.color":                        d.Log.Color,
		"log.source":                       d.Log.Source,
		"log.file":                         d.Log.File,
		"log.max_size_mb":                  d.Log.MaxSizeMB,
		"log.max_backups":                  d.Log.MaxBackups,
		"log.max_age_days":                 d.Log.MaxAgeDays,
		"log.compress":                     d.Log.Compress,
	} {
		v.SetDefault(k, val)
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// Load reads path (TOML) on top of the defaults and validates the result.
// An empty path loads defaults plus environment overrides only.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadString parses TOML from memory; used by tests and the template command.
func LoadString(contents string) (Config, error) {
	v := newViper()
	if err := v.ReadConfig(strings.NewReader(contents)); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Datastore.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("datastore: %w", err))
	}
	if c.Status.TicksBetweenRuns < 1 {
		errs = append(errs, errors.New("status: ticks_between_runs must be at least 1"))
	}
	if c.Status.PollInterval <= 0 {
		errs = append(errs, errors.New("status: poll_interval must be positive"))
	}
	if _, err := periodic.New(c.Status.Periodic()); err != nil {
		errs = append(errs, fmt.Errorf("status: %w", err))
	}
	if c.Credential.Path == "" || c.Credential.TempPath == "" {
		errs = append(errs, errors.New("credential: path and temp_path are required"))
	}
	if c.Server.Enabled {
		if c.Server.Listen == "" {
			errs = append(errs, errors.New("server: listen is required"))
		}
		if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
			errs = append(errs, errors.New("server: base_path must start with /"))
		}
		if err := c.Server.TLS.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
		if err := c.Server.Auth.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("server: %w", err))
		}
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" && !c.Server.Enabled {
		errs = append(errs, errors.New("metrics: listen is required when the API server is disabled"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	return errors.Join(errs...)
}

// MonitorConfig derives the status probe settings.
func (c Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		Database:     c.Datastore.Database,
		AdminUser:    c.Datastore.AdminUser,
		ActiveQuery:  c.Datastore.Commands.ActiveDB,
		DownQuery:    c.Datastore.Commands.DatabaseDown,
		ProbeTimeout: c.Status.ProbeTimeout,
		PollInterval: c.Status.PollInterval,
	}
}
