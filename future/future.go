// Package future provides write-once result cells and the decoupler that keeps
// continuations of cluster-client operations off the client's own goroutines.
package future

import (
	"context"
	"sync"
)

// Future is a write-once result that may be observed by any number of
// goroutines. The zero value is not usable; create futures through NewPromise,
// Completed or Failed.
type Future[T any] struct {
	done chan struct{}

	mu        sync.Mutex
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Completed returns a future already resolved with v.
func Completed[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.complete(v, nil)
	return f
}

// Failed returns a future already rejected with err.
func Failed[T any](err error) *Future[T] {
	f := newFuture[T]()
	var zero T
	f.complete(zero, err)
	return f
}

// Done returns a channel closed once the future has a result.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the outcome without blocking. ok is false while the future
// is still pending.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.err, f.completed
}

// Get blocks until the future completes or ctx is done. Cancelling ctx only
// stops the wait, the underlying operation keeps running.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Wait is Get for callers that only need the error.
func (f *Future[T]) Wait(ctx context.Context) error {
	_, err := f.Get(ctx)
	return err
}

// OnComplete registers cb. Callbacks registered before completion run on the
// goroutine that completes the future, in registration order; callbacks
// registered afterwards run immediately on the calling goroutine.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	cb(v, err)
}

func (f *Future[T]) complete(v T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value = v
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(v, err)
	}
	return true
}

// Promise is the write side of a Future.
type Promise[T any] struct {
	future *Future[T]
}

// NewPromise creates a pending promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{future: newFuture[T]()}
}

// Future returns the read side.
func (p *Promise[T]) Future() *Future[T] {
	return p.future
}

// Complete resolves the future. Only the first Complete or Fail wins; the
// return value reports whether this call did.
func (p *Promise[T]) Complete(v T) bool {
	return p.future.complete(v, nil)
}

// Fail rejects the future with err.
func (p *Promise[T]) Fail(err error) bool {
	var zero T
	return p.future.complete(zero, err)
}

// Resolve completes with v when err is nil and fails otherwise.
func (p *Promise[T]) Resolve(v T, err error) bool {
	if err != nil {
		return p.Fail(err)
	}
	return p.Complete(v)
}

// Then returns a future holding fn applied to f's value. fn is skipped when
// f fails; the failure is propagated unchanged.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	p := NewPromise[U]()
	f.OnComplete(func(v T, err error) {
		if err != nil {
			p.Fail(err)
			return
		}
		p.Resolve(fn(v))
	})
	return p.Future()
}

// Compose chains an asynchronous step after f. next is skipped when f fails.
func Compose[T, U any](f *Future[T], next func(T) *Future[U]) *Future[U] {
	p := NewPromise[U]()
	f.OnComplete(func(v T, err error) {
		if err != nil {
			p.Fail(err)
			return
		}
		next(v).OnComplete(func(u U, err error) {
			p.Resolve(u, err)
		})
	})
	return p.Future()
}

// Discard maps any future to a Future[struct{}] carrying only its error.
func Discard[T any](f *Future[T]) *Future[struct{}] {
	return Then(f, func(T) (struct{}, error) { return struct{}{}, nil })
}
