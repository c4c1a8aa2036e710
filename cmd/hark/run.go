package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/hark/internal/app"
	"github.com/MrWong99/hark/internal/config"
	"github.com/MrWong99/hark/internal/observe"
)

// shutdownTimeout bounds the graceful shutdown after a signal.
const shutdownTimeout = 15 * time.Second

func newRunCmd(opts *options) *cobra.Command {
	var noAutoStart bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the voice activation daemon",
		Long: `Start listening for the wake sound and serve the control API.

The configuration file is watched for changes: detection parameters, command
phrases and the log level are applied without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd, opts, !noAutoStart)
		},
	}
	cmd.Flags().BoolVar(&noAutoStart, "idle", false, "start idle and wait for POST /api/listen/start")
	return cmd
}

func runDaemon(cmd *cobra.Command, opts *options, autoStart bool) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, path, err := loadConfig(opts)
	if err != nil {
		return err
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("hark starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "hark",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, metrics)

	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		_ = shutdownTelemetry(context.Background())
		return err
	}

	printStartupSummary(cmd.OutOrStdout(), cfg)

	application, err := app.New(cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(level),
		app.WithAutoStart(autoStart),
	)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		_ = shutdownTelemetry(context.Background())
		return fmt.Errorf("initialise application: %w", err)
	}
	for _, c := range closers {
		application.AddCloser(c)
	}
	application.AddCloser(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTelemetry(ctx)
	})

	// ── Hot reload ────────────────────────────────────────────────────────────
	if path != "" {
		w, err := config.NewWatcher(path, application.ApplyConfig)
		if err != nil {
			slog.Warn("config watcher disabled", "path", path, "err", err)
		} else {
			defer w.Stop()
		}
	}

	slog.Info("hark ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	// A second signal during shutdown terminates the process.
	stop()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
