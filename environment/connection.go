package environment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/config"
	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/future"
	"github.com/HermesGermany/galapagos-sub000/metric"
	"github.com/HermesGermany/galapagos-sub000/natsclient"
	"github.com/HermesGermany/galapagos-sub000/pkg/retry"
	"github.com/HermesGermany/galapagos-sub000/pkg/tlsutil"
)

// Connection holds the cluster handles of one environment: one admin
// client, one sender and one consumer, shared by all of its collections.
type Connection struct {
	Admin    cluster.Admin
	Sender   cluster.Sender
	Consumer cluster.Consumer

	// Close releases the admin client and the connection. The consumer is
	// closed by the ingest loop that owns it.
	Close func(ctx context.Context) error
}

// ConnectionFactory opens the connection of an environment.
type ConnectionFactory interface {
	Connect(ctx context.Context, env config.EnvironmentConfig) (*Connection, error)
}

// FactoryFunc adapts a function to ConnectionFactory.
type FactoryFunc func(ctx context.Context, env config.EnvironmentConfig) (*Connection, error)

// Connect implements ConnectionFactory.
func (f FactoryFunc) Connect(ctx context.Context, env config.EnvironmentConfig) (*Connection, error) {
	return f(ctx, env)
}

// NATSFactory connects environments to NATS JetStream clusters.
type NATSFactory struct {
	Logger    *slog.Logger
	Registry  *metric.MetricsRegistry
	Decoupler *future.Decoupler
	Retry     retry.Config

	// instance distinguishes the connections of this process on the server
	instance string
}

// NewNATSFactory returns a factory retrying connects with retry.Connect.
func NewNATSFactory(logger *slog.Logger, registry *metric.MetricsRegistry) *NATSFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSFactory{
		Logger:    logger,
		Registry:  registry,
		Decoupler: future.Default(),
		Retry:     retry.Connect(),
		instance:  uuid.NewString()[:8],
	}
}

// Connect implements ConnectionFactory.
func (f *NATSFactory) Connect(ctx context.Context, env config.EnvironmentConfig) (*Connection, error) {
	logger := f.Logger.With("environment", env.ID)

	opts, err := f.clientOptions(env, logger)
	if err != nil {
		return nil, err
	}
	client, err := natsclient.NewClient(env.URLs, opts...)
	if err != nil {
		return nil, err
	}

	policy := f.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("Connecting environment failed, retrying",
			"attempt", attempt, "delay", delay, "error", err, "class", errors.Classify(err).String())
	}
	// Fatal and authorization errors end the retry at once
	err = retry.Do(ctx, policy, func() error {
		return client.Connect(ctx)
	})
	if err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "NATSFactory", "Connect", fmt.Sprintf("connect environment %s", env.ID))
	}

	admin := cluster.NewNATSAdmin(client, logger,
		cluster.WithInternalPrefix(env.InternalPrefix),
		cluster.WithDecoupler(f.Decoupler))

	logger.Info("Environment connected", "servers", len(client.Servers()))
	return &Connection{
		Admin:    admin,
		Sender:   cluster.NewNATSSender(client, f.Decoupler, logger),
		Consumer: cluster.NewNATSConsumer(client, logger),
		Close: func(ctx context.Context) error {
			adminErr := admin.Close()
			if err := client.Close(ctx); err != nil {
				return err
			}
			return adminErr
		},
	}, nil
}

func (f *NATSFactory) clientOptions(env config.EnvironmentConfig, logger *slog.Logger) ([]natsclient.ClientOption, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(fmt.Sprintf("galapagos-%s-%s", env.ID, f.instance)),
	}

	switch {
	case env.Auth.CredsFile != "":
		opts = append(opts, natsclient.WithCredsFile(env.Auth.CredsFile))
	case env.Auth.Token != "":
		opts = append(opts, natsclient.WithToken(env.Auth.Token))
	case env.Auth.Username != "":
		opts = append(opts, natsclient.WithCredentials(env.Auth.Username, env.Auth.Password))
	}

	if env.TLS.Enabled {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(env.TLS)
		if err != nil {
			return nil, errors.WrapFatal(err, "NATSFactory", "Connect", "load TLS configuration")
		}
		opts = append(opts, natsclient.WithTLSConfig(tlsConfig))
	}

	if f.Registry != nil {
		opts = append(opts, natsclient.WithMetrics(f.Registry, env.ID))
	}
	return opts, nil
}
