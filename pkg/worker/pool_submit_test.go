package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HermesGermany/galapagos-sub000/metric"
)

func TestPool_LifecycleErrors(t *testing.T) {
	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error { return nil })

	assert.ErrorIs(t, pool.Submit(testWork{id: 1}), ErrPoolNotStarted)
	assert.ErrorIs(t, pool.SubmitWait(context.Background(), testWork{id: 1}), ErrPoolNotStarted)

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, pool.Stop(time.Second))
	assert.ErrorIs(t, pool.Submit(testWork{id: 2}), ErrPoolStopped)
}

func TestPool_SubmitWaitAppliesBackpressure(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []int

	pool := NewPool(1, 1, func(_ context.Context, w testWork) error {
		<-release
		mu.Lock()
		seen = append(seen, w.id)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	submitted := make(chan error, 1)
	go func() {
		for i := 0; i < 3; i++ {
			if err := pool.SubmitWait(context.Background(), testWork{id: i}); err != nil {
				submitted <- err
				return
			}
		}
		submitted <- nil
	}()

	// One item in flight plus one queued; the third submission must wait
	select {
	case err := <-submitted:
		t.Fatalf("SubmitWait returned before capacity was available: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-submitted)
	require.NoError(t, pool.Stop(time.Second))

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{0, 1, 2}, seen)
	assert.Zero(t, pool.Stats().Dropped)
}

func TestPool_SubmitWaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	pool := NewPool(1, 1, func(_ context.Context, _ testWork) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Submit(testWork{id: 1}))
	// Wait for the worker to pick up the first item so the queue slot frees
	require.Eventually(t, func() bool { return pool.Stats().QueueDepth == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Submit(testWork{id: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := pool.SubmitWait(ctx, testWork{id: 3})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPool_MetricsShareVectors(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	process := func(_ context.Context, w testWork) error {
		if w.fail {
			return errors.New("failed")
		}
		return nil
	}

	first := NewPool(1, 10, process, WithMetricsRegistry[testWork](registry, "sweep"))
	second := NewPool(1, 10, process, WithMetricsRegistry[testWork](registry, "sweep"))
	require.NotNil(t, first.metrics)
	require.NotNil(t, second.metrics)
	assert.Same(t, first.metrics.submitted, second.metrics.submitted)

	require.NoError(t, first.Start(context.Background()))
	require.NoError(t, first.Submit(testWork{id: 1}))
	require.NoError(t, first.Submit(testWork{id: 2, fail: true}))
	require.NoError(t, first.Stop(time.Second))

	assert.Equal(t, 2.0, testutil.ToFloat64(first.metrics.submitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(first.metrics.processed))
	assert.Equal(t, 1.0, testutil.ToFloat64(first.metrics.failed))
}
