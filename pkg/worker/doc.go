// Package worker provides a generic, thread-safe worker pool.
//
// A Pool runs a fixed number of goroutines that process items of type T from
// a bounded queue. Submit never blocks and reports ErrQueueFull when the
// queue is at capacity; SubmitWait applies backpressure instead and blocks
// until there is room or the context ends.
//
//	pool := worker.NewPool(4, 64, func(ctx context.Context, principal string) error {
//	    return reconcile(ctx, principal)
//	}, worker.WithMetricsRegistry[string](registry, "acl_sweep"))
//
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//	defer pool.Stop(5 * time.Second)
//
// Statistics are always tracked (Stats); Prometheus metrics are registered
// when a registry and prefix are supplied. Pools created with the same prefix
// share their metric vectors.
package worker
