package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/dbguest/pkg/client"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := buildRoot(os.Stdout, os.Stdin, NewSessionManager())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the command tree. out receives command output and in
// feeds hash-password.
func buildRoot(out io.Writer, in io.Reader, sessions *SessionManager) *cobra.Command {
	globalFlags := &GlobalFlags{}
	c := &command{global: globalFlags, sessions: sessions, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createPrepareCommand(c),
		createStartCommand(c),
		createStopCommand(c),
		createRestartCommand(c),
		createStatusCommand(c),
		createUpdateStatusCommand(c),
		createHistoryCommand(c),
		createFilesystemCommand(c),
		createVolumeCommand(c),
		createLoginCommand(c),
		createLogoutCommand(c),
		createAuthCommand(c, in),
		createTemplateCommand(c),
		createVersionCommand(c),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "dbguest",
		Short: "Guest agent for a managed database instance",
		Long: `dbguest runs next to a database instance and drives its lifecycle:
install and create, start, stop, restart and status tracking.

Examples:
  dbguest serve --config=/etc/dbguest/config.toml
  dbguest status
  dbguest prepare --template=full
  dbguest restart --api-url=https://10.0.0.5:8778/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// addAPIFlags registers the connection flags on cmd.
func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "agent URL (e.g. http://host:8778/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout for quick calls")
	cmd.Flags().StringVar(&f.Username, "user", "", "username for basic auth")
	cmd.Flags().StringVar(&f.Password, "password", "", "password for basic auth")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for the agent's TLS certificate")
}

func createPrepareCommand(c *command) *cobra.Command {
	f, api := &PrepareFlags{}, &APIFlags{}
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Install packages and create the database",
		Long: `Prepare the instance: optional data volume, package installation,
database installation and creation. The request comes from a JSON file
or one of the built-in templates.

Examples:
  dbguest prepare --file=./prepare.json
  dbguest prepare --template=minimal --database=db_srvr`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Prepare(*f, *api)
		},
	}
	cmd.Flags().StringVar(&f.File, "file", "", "path to prepare request JSON")
	cmd.Flags().StringVar(&f.Template, "template", "", "built-in template type (see 'template list')")
	cmd.Flags().StringVar(&f.Database, "database", "", "database name for --template")
	addAPIFlags(cmd, api)
	return cmd
}

func createStartCommand(c *command) *cobra.Command {
	f, api := &StartFlags{}, &APIFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(*f, *api)
		},
	}
	cmd.Flags().BoolVar(&f.Persist, "persist", false, "record the final status in history")
	addAPIFlags(cmd, api)
	return cmd
}

func createStopCommand(c *command) *cobra.Command {
	f, api := &StopFlags{}, &APIFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(*f, *api)
		},
	}
	cmd.Flags().BoolVar(&f.Persist, "persist", false, "record the final status in history")
	cmd.Flags().BoolVar(&f.DoNotStartOnReboot, "do-not-start-on-reboot", false, "keep the database down after a reboot")
	addAPIFlags(cmd, api)
	return cmd
}

func createRestartCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop then start the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(*api)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createStatusCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last known database status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*api)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createUpdateStatusCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "update-status",
		Short: "Probe the database now and show the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.UpdateStatus(*api)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createHistoryCommand(c *command) *cobra.Command {
	f, api := &HistoryFlags{}, &APIFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent status events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(*f, *api)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 20, "maximum number of events")
	addAPIFlags(cmd, api)
	return cmd
}

func createFilesystemCommand(c *command) *cobra.Command {
	f, api := &FilesystemFlags{}, &APIFlags{}
	cmd := &cobra.Command{
		Use:   "fs",
		Short: "Show filesystem usage for a path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Filesystem(*f, *api)
		},
	}
	cmd.Flags().StringVar(&f.Path, "path", "", "absolute path (defaults to the data mount point)")
	addAPIFlags(cmd, api)
	return cmd
}

func createVolumeCommand(c *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Manage the data volume",
	}
	sub := func(use, short string, op volumeOp) *cobra.Command {
		f, api := &VolumeFlags{}, &APIFlags{}
		s := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.Volume(op, use, *f, *api)
			},
		}
		s.Flags().StringVar(&f.Device, "device", "", "block device path (required)")
		s.Flags().StringVar(&f.MountPoint, "mount-point", "", "mount point (defaults to the configured one)")
		addAPIFlags(s, api)
		if err := s.MarkFlagRequired("device"); err != nil {
			panic(err)
		}
		return s
	}
	cmd.AddCommand(
		sub("mount", "Mount a device", (*client.Client).MountVolume),
		sub("unmount", "Unmount a device", (*client.Client).UnmountVolume),
		sub("resize", "Grow the filesystem on a device", (*client.Client).ResizeFS),
	)
	return cmd
}

func createLoginCommand(c *command) *cobra.Command {
	api := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to an agent and save the session",
		Long: `Log in with a configured user and save the issued token under ~/.dbguest.
Later commands reuse the token until it expires.

Examples:
  dbguest login --user=ops --password=secret
  dbguest login --api-url=https://10.0.0.5:8778/api --user=ops --password=secret`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Login(*api)
		},
	}
	addAPIFlags(cmd, api)
	return cmd
}

func createLogoutCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logout()
		},
	}
}

func createAuthCommand(c *command, in io.Reader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash-password [secret]",
		Short: "Print a bcrypt hash for a user or client secret",
		Long: `Print a bcrypt hash to paste into secret_hash under [[server.auth.users]]
or [[server.auth.clients]]. Reads the secret from stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.HashPassword(args, in)
		},
	})
	return cmd
}

func createTemplateCommand(c *command) *cobra.Command {
	f := &TemplateCreateFlags{}
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Generate prepare request templates",
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Generate a prepare request",
		Long: `Generate a prepare request JSON document.

Examples:
  dbguest template create --type=minimal
  dbguest template create --type=full --database=analytics --output=prepare.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.TemplateCreate(*f)
		},
	}
	create.Flags().StringVar(&f.Type, "type", "minimal", "template type")
	create.Flags().StringVar(&f.Database, "database", "", "database name")
	create.Flags().StringVarP(&f.Output, "output", "o", "", "output file (default stdout)")
	create.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing output file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List template types",
		Run: func(cmd *cobra.Command, args []string) {
			c.TemplateList()
		},
	}
	cmd.AddCommand(create, list)
	return cmd
}

func createVersionCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(c.out, "dbguest %s\n", version)
		},
	}
}
