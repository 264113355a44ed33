package lifecycle

import (
	"errors"
	"strings"
	"time"
)

// Commands are the admin command templates. Placeholders in braces are
// substituted before execution: {db}, {password}, {ip}, {mount}, {package}
// and {license}.
type Commands struct {
	ActiveDB     string `mapstructure:"active_db"`
	DatabaseDown string `mapstructure:"database_down"`
	StartDB      string `mapstructure:"start_db"`
	StopDB       string `mapstructure:"stop_db"`
	CreateDB     string `mapstructure:"create_db"`
	Install      string `mapstructure:"install"`
	LocalCoerce  string `mapstructure:"local_coerce"`
}

// Config holds the datastore layout and timeouts used by the controller.
type Config struct {
	Database    string `mapstructure:"database"`
	AdminUser   string `mapstructure:"admin_user"`
	AdminHome   string `mapstructure:"admin_home"`
	AdminGroup  string `mapstructure:"admin_group"`
	Interface   string `mapstructure:"interface"`
	MountPoint  string `mapstructure:"mount_point"`
	PackageFile string `mapstructure:"package_file"`
	License     string `mapstructure:"license"`
	// ConfigFile receives PrepareRequest.ConfigContents when set.
	ConfigFile string   `mapstructure:"config_file"`
	Commands   Commands `mapstructure:"commands"`

	StateChangeWait time.Duration `mapstructure:"state_change_wait"`
	InstallTimeout  time.Duration `mapstructure:"install_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
}

// DefaultCommands returns the Vertica admin tool invocations.
func DefaultCommands() Commands {
	return Commands{
		ActiveDB:     "/opt/vertica/bin/adminTools -t show_active_db",
		DatabaseDown: "/opt/vertica/bin/adminTools -t db_status -s DOWN",
		StartDB:      "/opt/vertica/bin/adminTools -t start_db -d {db} -p '{password}'",
		StopDB:       "/opt/vertica/bin/adminTools -t stop_db -F -d {db} -p '{password}'",
		CreateDB:     "/opt/vertica/bin/adminTools -t create_db -s {ip} -d {db} -c {mount} -D {mount} -p '{password}'",
		Install: "/opt/vertica/sbin/install_vertica -s {ip} -d {mount} -X -N -S default -r {package} " +
			"-L {license} -Y --failure-threshold NONE",
		LocalCoerce: "/opt/vertica/oss/python/bin/python -m vertica.local_coerce",
	}
}

// DefaultConfig returns the settings for a single-node Vertica guest.
func DefaultConfig() Config {
	return Config{
		Database:        "db_srvr",
		AdminUser:       "dbadmin",
		AdminHome:       "/home/dbadmin",
		AdminGroup:      "verticadba",
		Interface:       "eth0",
		MountPoint:      "/var/lib/vertica",
		PackageFile:     "/vertica_7.1.1-0_amd64.deb",
		License:         "CE",
		Commands:        DefaultCommands(),
		StateChangeWait: 3 * time.Minute,
		InstallTimeout:  1000 * time.Second,
		CommandTimeout:  5 * time.Minute,
	}
}

// Validate reports missing settings the controller cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}
	if c.AdminUser == "" {
		errs = append(errs, errors.New("admin user is required"))
	}
	for name, v := range map[string]string{
		"active_db":     c.Commands.ActiveDB,
		"database_down": c.Commands.DatabaseDown,
		"start_db":      c.Commands.StartDB,
		"stop_db":       c.Commands.StopDB,
	} {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, errors.New("command "+name+" is required"))
		}
	}
	if c.StateChangeWait <= 0 {
		errs = append(errs, errors.New("state_change_wait must be positive"))
	}
	return errors.Join(errs...)
}

type params struct {
	IP       string
	Password string
}

func (c Config) render(tmpl string, p params) string {
	return strings.NewReplacer(
		"{db}", c.Database,
		"{password}", p.Password,
		"{ip}", p.IP,
		"{mount}", c.MountPoint,
		"{package}", c.PackageFile,
		"{license}", c.License,
	).Replace(tmpl)
}
