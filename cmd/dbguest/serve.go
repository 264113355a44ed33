package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/dbguest"
	"github.com/loykin/dbguest/internal/logger"
)

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the guest agent",
		Long: `Run the guest agent: periodic status refresh, process metrics and the HTTP API.
Without --config the built-in defaults are used.

Examples:
  dbguest serve --config=/etc/dbguest/config.toml
  DBGUEST_SERVER_LISTEN=0.0.0.0:8778 dbguest serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags.ConfigPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg := dbguest.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = dbguest.LoadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	closer, err := logger.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	agent, err := dbguest.New(cfg)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("dbguest starting", "config", configPath, "listen", cfg.Server.Listen, "instance", cfg.Datastore.Database)
	return agent.Run(ctx)
}
