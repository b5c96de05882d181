package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/HermesGermany/galapagos-sub000/acl"
	"github.com/HermesGermany/galapagos-sub000/config"
	"github.com/HermesGermany/galapagos-sub000/environment"
	"github.com/HermesGermany/galapagos-sub000/metric"
)

// permissionSync keeps the bindings of one environment in line with the
// replicated principal specs.
type permissionSync struct {
	env          *environment.Environment
	requirements *acl.StoreRequirements
	sweeper      *acl.Sweeper
	replication  config.ReplicationConfig
	reconcile    config.ReconcileConfig
	logger       *slog.Logger
}

func newPermissionSync(
	ctx context.Context,
	env *environment.Environment,
	cfg *config.Config,
	metrics *acl.Metrics,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*permissionSync, error) {
	requirements, err := acl.NewStoreRequirements(ctx, env.Container)
	if err != nil {
		return nil, err
	}

	reconciler := acl.NewReconciler(env.ID, env.Admin, requirements, logger, metrics)
	sweeper := acl.NewSweeper(env.ID, reconciler, acl.SweeperConfig{
		Workers:       cfg.Reconcile.Workers,
		RatePerSecond: cfg.Reconcile.RatePerSecond,
		Burst:         cfg.Reconcile.Burst,
	}, logger, metrics, registry)

	return &permissionSync{
		env:          env,
		requirements: requirements,
		sweeper:      sweeper,
		replication:  cfg.Replication,
		reconcile:    cfg.Reconcile,
		logger:       logger.With("environment", env.ID),
	}, nil
}

// run waits until the principal specs are loaded, then sweeps once and on
// every interval until ctx ends.
func (p *permissionSync) run(ctx context.Context) error {
	if err := p.sweeper.Start(ctx); err != nil {
		return err
	}

	ready := p.requirements.Store().AwaitReady(
		p.replication.ReadyInitialDelay.Std(),
		p.replication.ReadyIdleWindow.Std(),
	)
	if err := ready.Wait(ctx); err != nil {
		return nil
	}
	p.logger.Info("Principal specs loaded", "principals", p.requirements.Store().Len())

	if !p.reconcile.Enabled {
		p.logger.Info("Permission sweep disabled")
		return nil
	}

	ticker := time.NewTicker(p.reconcile.Interval.Std())
	defer ticker.Stop()

	for {
		p.sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *permissionSync) sweep(ctx context.Context) {
	// Stale specs after a fatal stop could revoke bindings that were
	// granted since.
	if err := p.env.Container.Err(); err != nil {
		p.logger.Warn("Skipping sweep, ingest loop stopped", "error", err)
		return
	}

	principals := p.requirements.Principals()
	if _, err := p.sweeper.Sweep(ctx, principals); err != nil && ctx.Err() == nil {
		p.logger.Warn("Sweep aborted", "error", err)
	}
}

func (p *permissionSync) stop(timeout time.Duration) {
	if err := p.sweeper.Stop(timeout); err != nil {
		p.logger.Warn("Stopping sweeper failed", "error", err)
	}
}
