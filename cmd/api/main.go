// Package main is the entry point for the notifyroute HTTP API.
//
// It loads configuration, assembles the notification service, mounts the
// event, status and rule handlers on the core chassis and serves until
// SIGINT or SIGTERM. The retry scheduler runs alongside the listener and
// in-flight deliveries are drained before the process exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"notifyroute/internal/api/handlers"
	"notifyroute/internal/app"
	"notifyroute/internal/config"
	"notifyroute/internal/core"
	"notifyroute/internal/types"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SSM resolution is skipped when APP_ENV=local.
	var secrets config.SecretProvider
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		secrets = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.Load(secrets)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("notifyroute API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("assembling service: %w", err)
	}

	srv, err := newServer(cfg.Server, a, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, ":"+cfg.Server.Port, shutdownTimeout)
	})
	g.Go(func() error {
		return a.RunBackground(gctx)
	})
	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	a.Close(drainCtx)
	logger.Info("notifyroute API stopped")
	return runErr
}

// newServer mounts the domain handlers of a on the HTTP chassis.
func newServer(cfg config.ServerConfig, a *app.App, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	if a.Metrics != nil {
		srv.Metrics = a.Metrics
	}
	if cfg.RateLimitRPS > 0 {
		srv.RateLimiter = core.NewMemoryRateLimitStore(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	srv.HealthProbes = a.HealthProbes()

	clock := types.RealClock{}
	events := handlers.NewEventHandler(a.Orchestrator, clock, logger)
	status := handlers.NewStatusHandler(a.Orchestrator, logger)
	rules := handlers.NewRulesHandler(a.Engine, clock)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		events.RegisterRoutes,
		status.RegisterRoutes,
		rules.RegisterRoutes,
	)

	srv.MountRoutes()
	return srv, nil
}

// newLogger creates a JSON slog.Logger for the given level name.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
