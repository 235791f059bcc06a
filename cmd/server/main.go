package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/nocodo/nocodo/backend/internal/infrastructure/config"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/logging"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nocodo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags override the environment.
	flags := pflag.NewFlagSet("nocodo", pflag.ContinueOnError)
	flags.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP listen port")
	flags.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "HTTP listen host")
	flags.StringVar(&cfg.Workspace.ProjectRoot, "project-root", cfg.Workspace.ProjectRoot, "directory every command is confined to")
	flags.StringVar(&cfg.Workspace.ToolsFile, "tools", cfg.Workspace.ToolsFile, "tool registry file (yaml, toml or json)")
	flags.StringVar(&cfg.Workspace.PolicyFile, "policy", cfg.Workspace.PolicyFile, "permission policy file (yaml, toml or json)")
	flags.StringSliceVar(&cfg.Workspace.AllowedDirs, "allowed-dir", cfg.Workspace.AllowedDirs, "additional allowed working directory (repeatable)")
	flags.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver, "session store driver: memory, sqlite or postgres")
	flags.StringVar(&cfg.Store.DSN, "store-dsn", cfg.Store.DSN, "session store DSN")
	flags.StringVar(&cfg.Events.NATSURL, "nats", cfg.Events.NATSURL, "NATS URL for lifecycle events")
	flags.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level: debug, info, warn or error")
	flags.StringVar(&cfg.Logging.Format, "log-format", cfg.Logging.Format, "log format: json or console")
	flags.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "development logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Format:      cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}
	return srv.Run(ctx)
}
