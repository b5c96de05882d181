package environment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/config"
	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/health"
	"github.com/HermesGermany/galapagos-sub000/replication"
)

// Environment is one connected cluster with its ingest loop.
type Environment struct {
	ID        string
	Config    config.EnvironmentConfig
	Admin     cluster.Admin
	Sender    cluster.Sender
	Container *replication.Container

	conn      *Connection
	startedAt time.Time
}

// Health reports the state of the ingest loop. A loop stopped by an error
// is unhealthy; its stores serve stale data.
func (e *Environment) Health() health.Status {
	state := e.Container.State()
	var status health.Status
	switch {
	case e.Container.Err() != nil:
		status = health.FromError(e.ID, e.Container.Err(), "")
	case state == replication.StateStopping || state == replication.StateStopped:
		status = health.NewUnhealthy(e.ID, "ingest loop "+state.String())
	default:
		status = health.NewHealthy(e.ID, "ingest loop "+state.String())
	}
	return status.WithMetrics(&health.Metrics{
		Uptime:      time.Since(e.startedAt),
		Collections: len(e.Container.Collections()),
	})
}

// Options configure a Registry.
type Options struct {
	Replication config.ReplicationConfig
	Metrics     *replication.Metrics
	Monitor     *health.Monitor
	Logger      *slog.Logger
}

// Registry holds every configured environment.
type Registry struct {
	envs       map[string]*Environment
	production string
	monitor    *health.Monitor
	logger     *slog.Logger
}

// Open connects all environments of cfg concurrently. If any of them fails,
// the ones already connected are closed again and the error is returned.
func Open(ctx context.Context, cfg *config.Config, factory ConnectionFactory, opts Options) (*Registry, error) {
	if cfg == nil || len(cfg.Environments) == 0 {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Registry", "Open", "read environments")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = health.NewMonitor()
	}

	r := &Registry{
		envs:       make(map[string]*Environment, len(cfg.Environments)),
		production: cfg.ProductionEnvironment,
		monitor:    monitor,
		logger:     logger,
	}

	envs := make([]*Environment, len(cfg.Environments))
	g, gctx := errgroup.WithContext(ctx)
	for i, envCfg := range cfg.Environments {
		g.Go(func() error {
			env, err := open(gctx, envCfg, factory, opts, logger)
			if err != nil {
				return fmt.Errorf("environment %s: %w", envCfg.ID, err)
			}
			envs[i] = env
			return nil
		})
	}
	err := g.Wait()

	for _, env := range envs {
		if env != nil {
			r.envs[env.ID] = env
		}
	}
	if err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.Close(closeCtx)
		return nil, err
	}

	r.UpdateHealth()
	return r, nil
}

func open(ctx context.Context, envCfg config.EnvironmentConfig, factory ConnectionFactory, opts Options, logger *slog.Logger) (*Environment, error) {
	conn, err := factory.Connect(ctx, envCfg)
	if err != nil {
		return nil, err
	}

	admin := conn.Admin
	if envCfg.DryRun {
		admin = cluster.NewDryRunAdmin(admin, logger.With("environment", envCfg.ID))
	}

	container := replication.NewContainer(envCfg.ID, replication.ContainerConfig{
		InternalPrefix:    envCfg.InternalPrefix,
		ReplicationFactor: envCfg.ReplicationFactor,
		PollTimeout:       opts.Replication.PollTimeout.Std(),
		ErrorBackoff:      opts.Replication.ErrorBackoff.Std(),
	}, admin, conn.Sender, conn.Consumer, logger, opts.Metrics)

	logger.Info("Environment ready", "environment", envCfg.ID, "dry_run", envCfg.DryRun)
	return &Environment{
		ID:        envCfg.ID,
		Config:    envCfg,
		Admin:     admin,
		Sender:    conn.Sender,
		Container: container,
		conn:      conn,
		startedAt: time.Now(),
	}, nil
}

// Get returns the environment with id.
func (r *Registry) Get(id string) (*Environment, bool) {
	env, ok := r.envs[id]
	return env, ok
}

// IDs returns the environment ids in order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.envs))
	for id := range r.envs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Production returns the production environment, if one is configured.
func (r *Registry) Production() (*Environment, bool) {
	if r.production == "" {
		return nil, false
	}
	return r.Get(r.production)
}

// UpdateHealth publishes the status of every environment to the monitor.
func (r *Registry) UpdateHealth() {
	for _, id := range r.IDs() {
		r.monitor.Update(id, r.envs[id].Health())
	}
}

// Health returns the aggregated status of all environments.
func (r *Registry) Health() health.Status {
	r.UpdateHealth()
	return r.monitor.AggregateHealth("environments")
}

// Close disposes every ingest loop and closes the connections concurrently.
func (r *Registry) Close(ctx context.Context) error {
	var g errgroup.Group
	for _, env := range r.envs {
		g.Go(func() error {
			var errs []error
			if err := env.Container.Dispose(ctx); err != nil {
				errs = append(errs, err)
			}
			if env.conn.Close != nil {
				if err := env.conn.Close(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			if err := errors.Join(errs...); err != nil {
				r.logger.Warn("Closing environment failed", "environment", env.ID, "error", err)
				return fmt.Errorf("environment %s: %w", env.ID, err)
			}
			r.logger.Info("Environment closed", "environment", env.ID)
			return nil
		})
	}
	return g.Wait()
}
