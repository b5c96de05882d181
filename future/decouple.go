package future

import (
	"sync"
	"sync/atomic"
)

// Source is a completion source owned by someone else, typically a cluster
// client whose callbacks fire on its internal I/O goroutine.
type Source[T any] interface {
	// Result returns the outcome if the source has already completed.
	Result() (value T, err error, ok bool)
	// OnComplete registers cb. cb may run on any goroutine, including
	// synchronously inside OnComplete.
	OnComplete(cb func(T, error))
}

// Worker runs submitted tasks off the caller's goroutine.
type Worker interface {
	Submit(task func())
}

// WorkerFactory creates a fresh single-use worker.
type WorkerFactory func() Worker

// goroutineWorker runs its first task on a new goroutine and drops the rest.
type goroutineWorker struct {
	used atomic.Bool
}

func (w *goroutineWorker) Submit(task func()) {
	if !w.used.CompareAndSwap(false, true) {
		return
	}
	go task()
}

// NewGoroutineWorker is the default WorkerFactory.
func NewGoroutineWorker() Worker {
	return &goroutineWorker{}
}

// Decoupler moves completion of foreign futures onto disposable workers so
// that continuations never execute on the goroutine that completed the
// foreign future. A client with a single I/O goroutine would otherwise
// deadlock as soon as a continuation issues another call and waits for it.
type Decoupler struct {
	newWorker WorkerFactory
}

// NewDecoupler creates a decoupler. A nil factory selects NewGoroutineWorker.
func NewDecoupler(factory WorkerFactory) *Decoupler {
	if factory == nil {
		factory = NewGoroutineWorker
	}
	return &Decoupler{newWorker: factory}
}

var defaultDecoupler = NewDecoupler(nil)

// Default returns the process-wide decoupler backed by goroutine workers.
func Default() *Decoupler {
	return defaultDecoupler
}

// Decouple returns a future with the same outcome as src.
//
// When src has already completed no worker is allocated and the returned
// future is already resolved. Otherwise exactly one worker is created; the
// result is handed to it from whatever goroutine completes src, and the
// returned future is completed by that worker.
func Decouple[T any](d *Decoupler, src Source[T]) *Future[T] {
	if d == nil {
		d = defaultDecoupler
	}

	if v, err, ok := src.Result(); ok {
		if err != nil {
			return Failed[T](err)
		}
		return Completed(v)
	}

	p := NewPromise[T]()
	worker := d.newWorker()
	src.OnComplete(func(v T, err error) {
		worker.Submit(func() {
			p.Resolve(v, err)
		})
	})
	return p.Future()
}

// Channels is a pull-style Source built from a pair of result channels, the
// shape the JetStream client uses for asynchronous publish acknowledgements.
// Exactly one of ok or errs is expected to deliver.
type Channels[T any] struct {
	ok   <-chan T
	errs <-chan error

	once   sync.Once
	result *Future[T]
	cell   *Promise[T]
}

// FromChannels adapts a result channel pair to Source.
func FromChannels[T any](ok <-chan T, errs <-chan error) *Channels[T] {
	p := NewPromise[T]()
	return &Channels[T]{ok: ok, errs: errs, cell: p, result: p.Future()}
}

// Result polls both channels without blocking.
func (c *Channels[T]) Result() (T, error, bool) {
	if v, err, ok := c.result.Result(); ok {
		return v, err, true
	}
	select {
	case v := <-c.ok:
		c.cell.Complete(v)
	case err := <-c.errs:
		c.cell.Fail(err)
	default:
	}
	return c.result.Result()
}

// OnComplete starts one watcher that waits on the channels and invokes cb
// from the watcher goroutine.
func (c *Channels[T]) OnComplete(cb func(T, error)) {
	c.once.Do(func() {
		go func() {
			select {
			case v := <-c.ok:
				c.cell.Complete(v)
			case err := <-c.errs:
				c.cell.Fail(err)
			case <-c.result.Done():
			}
		}()
	})
	c.result.OnComplete(cb)
}
