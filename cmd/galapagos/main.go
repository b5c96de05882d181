// Package main runs the Galapagos replication daemon: it connects every
// configured environment, replicates the internal collections and keeps the
// permission bindings of each environment in line with the replicated
// principal specs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HermesGermany/galapagos-sub000/acl"
	"github.com/HermesGermany/galapagos-sub000/config"
	"github.com/HermesGermany/galapagos-sub000/environment"
	"github.com/HermesGermany/galapagos-sub000/health"
	"github.com/HermesGermany/galapagos-sub000/metric"
	"github.com/HermesGermany/galapagos-sub000/replication"
)

// Build information
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "galapagos"
)

const healthInterval = 15 * time.Second

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.NewLoader().LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "environments", len(cfg.Environments))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	return serve(ctx, cfg, cliCfg, registry, environment.NewNATSFactory(slog.Default(), registry))
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}
	if cliCfg.ShowHelp {
		return nil, true, nil
	}

	slog.SetDefault(setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat))
	slog.Info("Starting Galapagos",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, false, nil
}

// serve connects all environments and runs until ctx ends or a permission
// sync fails to start.
func serve(
	ctx context.Context,
	cfg *config.Config,
	cliCfg *CLIConfig,
	registry *metric.MetricsRegistry,
	factory environment.ConnectionFactory,
) error {
	logger := slog.Default()

	replMetrics, err := replication.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("replication metrics: %w", err)
	}
	aclMetrics, err := acl.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("acl metrics: %w", err)
	}

	connectCtx, cancelConnect := context.WithTimeout(ctx, cliCfg.ConnectTimeout)
	envs, err := environment.Open(connectCtx, cfg, factory, environment.Options{
		Replication: cfg.Replication,
		Metrics:     replMetrics,
		Monitor:     health.NewMonitor(),
		Logger:      logger,
	})
	cancelConnect()
	if err != nil {
		return fmt.Errorf("open environments: %w", err)
	}

	syncs := make([]*permissionSync, 0, len(envs.IDs()))
	for _, id := range envs.IDs() {
		env, _ := envs.Get(id)
		ps, err := newPermissionSync(ctx, env, cfg, aclMetrics, registry, logger)
		if err != nil {
			_ = closeEnvironments(envs, cliCfg.ShutdownTimeout)
			return fmt.Errorf("environment %s: %w", id, err)
		}
		syncs = append(syncs, ps)
	}

	var server *metric.Server
	if cfg.Metrics.Enabled {
		server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry, cfg.Metrics.TLS,
			func() (bool, any) {
				status := envs.Health()
				return status.IsHealthy(), status
			})
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Metrics server started", "address", server.Address())
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ps := range syncs {
		g.Go(func() error {
			return ps.run(gctx)
		})
	}
	g.Go(func() error {
		watchHealth(gctx, envs, registry.CoreMetrics())
		return nil
	})

	logger.Info("Galapagos started", "environments", envs.IDs())
	<-gctx.Done()
	logger.Info("Shutting down")

	err = g.Wait()
	for _, ps := range syncs {
		ps.stop(cliCfg.ShutdownTimeout)
	}
	if server != nil {
		if stopErr := server.Stop(); stopErr != nil {
			logger.Warn("Stopping metrics server failed", "error", stopErr)
		}
	}
	if closeErr := closeEnvironments(envs, cliCfg.ShutdownTimeout); closeErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", closeErr)
	}

	logger.Info("Galapagos shutdown complete")
	return err
}

func closeEnvironments(envs *environment.Registry, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return envs.Close(ctx)
}

// watchHealth refreshes the health monitor and the environment status gauge
// until ctx ends.
func watchHealth(ctx context.Context, envs *environment.Registry, core *metric.Metrics) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		recordStatus(envs, core)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func recordStatus(envs *environment.Registry, core *metric.Metrics) {
	envs.UpdateHealth()
	for _, id := range envs.IDs() {
		env, _ := envs.Get(id)
		core.RecordEnvironmentStatus(id, environmentStatus(env.Container))
	}
}

// environmentStatus maps the loop state onto the status gauge values.
func environmentStatus(c *replication.Container) int {
	if c.Err() != nil {
		return 4
	}
	switch c.State() {
	case replication.StateIdle:
		return 1
	case replication.StateRunning:
		return 2
	case replication.StateStopping:
		return 3
	default:
		return 0
	}
}
