package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/metric"
)

func newTestClient(t *testing.T, opts ...ClientOption) *Client {
	t.Helper()
	client, err := NewClient([]string{"nats://localhost:4222"}, opts...)
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	client := newTestClient(t)

	assert.Equal(t, []string{"nats://localhost:4222"}, client.URLs())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.Conn())
	assert.Nil(t, client.Servers())

	_, err := NewClient(nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client := newTestClient(t)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_CustomThreshold(t *testing.T) {
	client := newTestClient(t, WithCircuitBreakerThreshold(2))

	client.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client := newTestClient(t)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, time.Second, client.Backoff())
	assert.NotEqual(t, StatusCircuitOpen, client.Status())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client := newTestClient(t)
	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 100; i++ {
		client.recordFailure()
	}
	assert.Equal(t, time.Minute, client.Backoff())
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	client := newTestClient(t)
	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	// The first open schedules a half-open after the initial one second backoff
	assert.Eventually(t, func() bool {
		return client.Status() == StatusDisconnected
	}, 3*time.Second, 20*time.Millisecond)
}

func TestGuard(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	_, err := client.Stream(ctx, "orders")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = client.ServerCount()
	assert.ErrorIs(t, err, ErrNotConnected)

	// Connected status without a JetStream context counts as a failure
	client.setStatus(StatusConnected)
	_, err = client.EnsureKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "acls"})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(1), client.Failures())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	err = client.DeleteStream(ctx, "orders")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	_, err = client.PublishAsync(nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestConcurrentSafety(t *testing.T) {
	client := newTestClient(t)

	var wg sync.WaitGroup
	iterations := 100

	wg.Add(5)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.setStatus(StatusConnecting)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.setStatus(StatusConnected)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_ = client.Status()
			_ = client.IsHealthy()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.recordFailure()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client.resetCircuit()
		}
	}()
	wg.Wait()

	assert.Contains(t, []ConnectionStatus{
		StatusDisconnected,
		StatusConnecting,
		StatusConnected,
		StatusReconnecting,
		StatusCircuitOpen,
	}, client.Status())
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected bool
	}{
		{StatusConnected, true},
		{StatusDisconnected, false},
		{StatusConnecting, false},
		{StatusReconnecting, false},
		{StatusCircuitOpen, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			client := newTestClient(t)
			client.setStatus(tt.status)
			assert.Equal(t, tt.expected, client.IsHealthy())
		})
	}
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out when not connected", func(t *testing.T) {
		client := newTestClient(t)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("returns when becomes connected", func(t *testing.T) {
		client := newTestClient(t)

		go func() {
			time.Sleep(50 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.NoError(t, client.WaitForConnection(ctx))
	})
}

func TestConnect_CancelledContext(t *testing.T) {
	client, err := NewClient([]string{"nats://192.0.2.1:4222"}, WithTimeout(5*time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, int32(1), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestClose_Idempotent(t *testing.T) {
	client := newTestClient(t, WithCredentials("galapagos", "secret"), WithToken("token"))

	assert.NoError(t, client.Close(context.Background()))
	assert.NoError(t, client.Close(context.Background()))
	assert.Empty(t, client.password)
	assert.Empty(t, client.token)

	err := client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrDisposed)
}

func TestConnectionOptions(t *testing.T) {
	client := newTestClient(t,
		WithLogger(slog.Default()),
		WithMaxReconnects(10),
		WithReconnectWait(5*time.Second),
		WithPingInterval(20*time.Second),
		WithMaxBackoff(10*time.Millisecond),
		WithDrainTimeout(time.Second),
		WithName("galapagos-test"),
	)

	assert.Equal(t, 10, client.maxReconnects)
	assert.Equal(t, 5*time.Second, client.reconnectWait)
	assert.Equal(t, 20*time.Second, client.pingInterval)
	assert.Equal(t, time.Minute, client.maxBackoff, "backoff below one second falls back to a minute")
	assert.Equal(t, time.Second, client.drainTimeout)

	base := len(client.buildConnectionOptions())

	authed := newTestClient(t,
		WithName("galapagos-test"),
		WithCredentials("galapagos", "secret"),
		WithCredsFile("/run/secrets/env.creds"),
	)
	assert.Equal(t, base+2, len(authed.buildConnectionOptions()))
}

func TestWithMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	dev := newTestClient(t, WithMetrics(registry, "dev"))
	prod := newTestClient(t, WithMetrics(registry, "prod"))
	require.NotNil(t, dev.jsMetrics)
	require.NotNil(t, prod.jsMetrics)

	// Both environments share the registered vectors
	assert.Same(t, dev.jsMetrics.errors, prod.jsMetrics.errors)

	dev.jsMetrics.recordError("create_stream")
	prod.jsMetrics.recordError("create_stream")
	prod.jsMetrics.recordError("create_stream")

	assert.Equal(t, 1.0, testutil.ToFloat64(dev.jsMetrics.errors.WithLabelValues("dev", "create_stream")))
	assert.Equal(t, 2.0, testutil.ToFloat64(prod.jsMetrics.errors.WithLabelValues("prod", "create_stream")))

	// Nil registry leaves metrics disabled
	plain := newTestClient(t, WithMetrics(nil, "dev"))
	assert.Nil(t, plain.jsMetrics)
	plain.jsMetrics.recordError("noop")
	cancel := plain.StartMetricsPoller(context.Background(), time.Second)
	cancel()
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.True(t, isAlreadyExistsError(jetstream.ErrStreamNameAlreadyInUse))
	assert.True(t, isAlreadyExistsError(jetstream.ErrBucketExists))
	assert.False(t, isAlreadyExistsError(jetstream.ErrStreamNotFound))
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(jetstream.ErrKeyNotFound))
	assert.False(t, IsKVNotFoundError(nil))

	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(jetstream.ErrKeyExists))
	assert.False(t, IsKVConflictError(ErrKVKeyNotFound))
}
