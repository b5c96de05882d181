// Package natsclient wraps the connection to one environment's NATS JetStream
// cluster.
//
// A Client dials the configured servers, tracks the connection status and
// guards every JetStream call with a circuit breaker. Only transient errors
// count towards the breaker; a missing stream or a rejected request says
// nothing about connectivity.
//
//	client, err := natsclient.NewClient(cfg.URLs,
//	    natsclient.WithLogger(logger),
//	    natsclient.WithCredentials(cfg.Auth.Username, cfg.Auth.Password),
//	    natsclient.WithMetrics(registry, cfg.ID),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Circuit Breaker
//
// After five consecutive failures (WithCircuitBreakerThreshold) the circuit
// opens and calls fail fast with ErrCircuitOpen. After the backoff elapses the
// circuit half-opens; each further open doubles the backoff up to
// WithMaxBackoff. Any successful call resets it.
//
// # JetStream
//
// Streams are managed with Stream, CreateStream, UpdateStream and
// DeleteStream. PublishAsync returns the jetstream.PubAckFuture without
// waiting, OrderedConsumer creates ephemeral ordered consumers, and
// EnsureKeyValue gets or creates a key-value bucket. KVStore adds timeouts,
// size limits and normalised errors on top of a bucket:
//
//	bucket, err := client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "acls"})
//	kv := client.NewKVStore(bucket)
//	entries, err := kv.Entries(ctx)
//
// # Metrics
//
// WithMetrics registers per-environment stream gauges and an operation error
// counter; StartMetricsPoller refreshes the gauges of streams touched through
// the client.
//
// # Testing
//
// NewTestClient starts a JetStream-enabled NATS container through
// testcontainers-go and returns a connected client. Tests using it carry the
// integration build tag.
package natsclient
