package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/HermesGermany/galapagos-sub000/cluster"
	"github.com/HermesGermany/galapagos-sub000/errors"
)

// FakeConsumer implements cluster.Consumer on a FakeCluster. Every Subscribe
// rewinds all topics to their first record.
type FakeConsumer struct {
	cluster *FakeCluster

	mu         sync.Mutex
	offsets    map[string]int
	subscribes int
	pollErr    []error
	closed     bool

	wake chan struct{}
}

var _ cluster.Consumer = (*FakeConsumer)(nil)

// NewConsumer returns a consumer reading from this cluster.
func (c *FakeCluster) NewConsumer() *FakeConsumer {
	return &FakeConsumer{
		cluster: c,
		offsets: make(map[string]int),
		wake:    make(chan struct{}, 1),
	}
}

// FailPoll makes the next polls return errs, one per poll.
func (fc *FakeConsumer) FailPoll(errs ...error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.pollErr = append(fc.pollErr, errs...)
}

// Subscriptions returns the subscribed topics.
func (fc *FakeConsumer) Subscriptions() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	topics := make([]string, 0, len(fc.offsets))
	for t := range fc.offsets {
		topics = append(topics, t)
	}
	return topics
}

// SubscribeCount returns how often Subscribe was called.
func (fc *FakeConsumer) SubscribeCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.subscribes
}

// IsClosed reports whether Close was called.
func (fc *FakeConsumer) IsClosed() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.closed
}

// Subscribe implements cluster.Consumer.
func (fc *FakeConsumer) Subscribe(_ context.Context, topics []string) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.closed {
		return errors.WrapFatal(errors.ErrDisposed, "FakeConsumer", "Subscribe", "check consumer state")
	}
	fc.subscribes++
	fc.offsets = make(map[string]int, len(topics))
	for _, t := range topics {
		fc.offsets[t] = 0
	}
	return nil
}

// Poll implements cluster.Consumer.
func (fc *FakeConsumer) Poll(ctx context.Context, timeout time.Duration) ([]cluster.Record, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-fc.wake:
			return nil, cluster.ErrWakeup
		default:
		}

		records, appended, err := fc.fetch()
		if err != nil || len(records) > 0 {
			return records, err
		}

		select {
		case <-fc.wake:
			return nil, cluster.ErrWakeup
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-appended:
		}
	}
}

// fetch returns unread records and the channel closed on the next append.
func (fc *FakeConsumer) fetch() ([]cluster.Record, <-chan struct{}, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.closed {
		return nil, nil, errors.WrapFatal(errors.ErrDisposed, "FakeConsumer", "Poll", "check consumer state")
	}
	if len(fc.pollErr) > 0 {
		err := fc.pollErr[0]
		fc.pollErr = fc.pollErr[1:]
		return nil, nil, err
	}

	c := fc.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	var records []cluster.Record
	for topic, offset := range fc.offsets {
		t, ok := c.topics[topic]
		if !ok || offset >= len(t.log) {
			continue
		}
		records = append(records, t.log[offset:]...)
		fc.offsets[topic] = len(t.log)
	}
	return records, c.appended, nil
}

// Wakeup implements cluster.Consumer.
func (fc *FakeConsumer) Wakeup() {
	select {
	case fc.wake <- struct{}{}:
	default:
	}
}

// Close implements cluster.Consumer.
func (fc *FakeConsumer) Close() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.closed = true
	return nil
}
