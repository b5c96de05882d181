package replication

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/future"
)

// Store is the in-memory view of one collection. Reads never touch the
// cluster. Save and Delete change the local view at once and publish
// asynchronously; the ingest loop applies every record read back from the
// topic, including this process's own.
type Store[T Record] struct {
	environment string
	name        string
	topic       string
	codec       Codec[T]
	sender      cluster.Sender
	disposed    *atomic.Bool
	logger      *slog.Logger
	metrics     *Metrics

	data  sync.Map // key -> T
	count atomic.Int64

	readyMu sync.Mutex
	waiters map[*readyWaiter]struct{}
}

func newStore[T Record](c *Container, name, topic string, codec Codec[T]) *Store[T] {
	return &Store[T]{
		environment: c.environment,
		name:        name,
		topic:       topic,
		codec:       codec,
		sender:      c.sender,
		disposed:    &c.disposed,
		logger:      c.logger.With("collection", name),
		metrics:     c.metrics,
		waiters:     make(map[*readyWaiter]struct{}),
	}
}

// Name returns the logical collection name.
func (s *Store[T]) Name() string {
	return s.name
}

// Topic returns the backing topic.
func (s *Store[T]) Topic() string {
	return s.topic
}

// Get returns the record stored under key.
func (s *Store[T]) Get(key string) (T, bool) {
	v, ok := s.data.Load(key)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// Contains reports whether a record is stored under key.
func (s *Store[T]) Contains(key string) bool {
	_, ok := s.data.Load(key)
	return ok
}

// Len returns the number of stored records.
func (s *Store[T]) Len() int {
	return int(s.count.Load())
}

// List returns a snapshot of all records ordered by key.
func (s *Store[T]) List() []T {
	type entry struct {
		key    string
		record T
	}
	entries := make([]entry, 0, s.Len())
	s.data.Range(func(k, v any) bool {
		entries = append(entries, entry{key: k.(string), record: v.(T)})
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	records := make([]T, len(entries))
	for i, e := range entries {
		records[i] = e.record
	}
	return records
}

// Save stores record locally and publishes it. The local change is visible
// immediately and is kept even if the publish fails.
func (s *Store[T]) Save(ctx context.Context, record T) *future.Future[struct{}] {
	key, err := s.checkWrite(record, "Save")
	if err != nil {
		return future.Failed[struct{}](err)
	}

	obj, err := s.codec.Encode(record)
	if err != nil {
		return future.Failed[struct{}](errors.WrapInvalid(err, "Store", "Save", "encode record"))
	}
	value, err := encodeUpsert(obj)
	if err != nil {
		return future.Failed[struct{}](errors.WrapInvalid(err, "Store", "Save", "encode envelope"))
	}

	s.put(key, record)
	return s.publish(ctx, key, value)
}

// Delete removes record locally and publishes a tombstone. The local removal
// is kept even if the publish fails.
func (s *Store[T]) Delete(ctx context.Context, record T) *future.Future[struct{}] {
	key, err := s.checkWrite(record, "Delete")
	if err != nil {
		return future.Failed[struct{}](err)
	}

	s.remove(key)
	return s.publish(ctx, key, tombstone)
}

func (s *Store[T]) checkWrite(record T, method string) (string, error) {
	if s.disposed.Load() {
		return "", errors.WrapFatal(errors.ErrDisposed, "Store", method, "check environment state")
	}
	if v := reflect.ValueOf(record); !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return "", errors.WrapInvalid(errors.ErrInvalidRecord, "Store", method, "check record")
	}
	key := record.GetKey()
	if key == "" {
		return "", errors.WrapInvalid(fmt.Errorf("%w: empty key", errors.ErrInvalidRecord), "Store", method, "check record key")
	}
	return key, nil
}

func (s *Store[T]) publish(ctx context.Context, key string, value []byte) *future.Future[struct{}] {
	published := future.NewPromise[struct{}]()
	s.sender.Send(ctx, s.topic, key, value).OnComplete(func(_ struct{}, err error) {
		if err != nil {
			s.metrics.publishFailed(s.environment, s.name)
			s.logger.Warn("Publish failed, local view diverges until the next write", "key", key, "error", err)
		}
		published.Resolve(struct{}{}, err)
	})
	return published.Future()
}

// apply applies one record read from the topic. Only the ingest loop calls it.
func (s *Store[T]) apply(rec cluster.Record) error {
	if rec.Key == "" {
		return errors.WrapInvalid(fmt.Errorf("%w: record without key", errors.ErrInvalidRecord), "Store", "apply", "check record key")
	}
	obj, deleted, err := decodeEnvelope(rec.Value)
	if err != nil {
		return err
	}

	if deleted {
		s.remove(rec.Key)
	} else {
		record, err := s.codec.Decode(obj)
		if err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Store", "apply", "decode record")
		}
		s.put(rec.Key, record)
	}

	s.touch()
	return nil
}

func (s *Store[T]) put(key string, record T) {
	if _, loaded := s.data.Swap(key, record); !loaded {
		s.metrics.setSize(s.environment, s.name, s.count.Add(1))
	}
}

func (s *Store[T]) remove(key string) {
	if _, loaded := s.data.LoadAndDelete(key); loaded {
		s.metrics.setSize(s.environment, s.name, s.count.Add(-1))
	}
}

func (s *Store[T]) topicName() string {
	return s.topic
}

func (s *Store[T]) recordType() string {
	return reflect.TypeFor[T]().String()
}

// readyWaiter tracks one AwaitReady call.
type readyWaiter struct {
	idle    time.Duration
	timer   *time.Timer
	promise *future.Promise[struct{}]
}

// AwaitReady resolves once no record has been applied for idleWindow, after
// waiting at least initialDelay. This approximates having caught up with the
// topic; it does not compare offsets.
func (s *Store[T]) AwaitReady(initialDelay, idleWindow time.Duration) *future.Future[struct{}] {
	w := &readyWaiter{idle: idleWindow, promise: future.NewPromise[struct{}]()}

	time.AfterFunc(initialDelay, func() {
		s.readyMu.Lock()
		defer s.readyMu.Unlock()
		w.timer = time.AfterFunc(idleWindow, func() { s.fire(w) })
		s.waiters[w] = struct{}{}
	})
	return w.promise.Future()
}

func (s *Store[T]) fire(w *readyWaiter) {
	s.readyMu.Lock()
	delete(s.waiters, w)
	s.readyMu.Unlock()
	w.promise.Complete(struct{}{})
}

// touch restarts the idle timer of every armed waiter.
func (s *Store[T]) touch() {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	for w := range s.waiters {
		// A timer that already fired is completing its waiter
		if w.timer.Stop() {
			w.timer.Reset(w.idle)
		}
	}
}
