package cluster

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/natsclient"
)

// ErrWakeup is returned by Poll after Wakeup was called.
var ErrWakeup = stderrors.New("consumer woken up")

// Consumer reads records from a set of topics. Apart from Wakeup it is used
// by a single goroutine only.
type Consumer interface {
	// Subscribe replaces the current subscription. Every topic is re-read from
	// its earliest record.
	Subscribe(ctx context.Context, topics []string) error
	// Poll waits up to timeout for records. It returns ErrWakeup when woken.
	Poll(ctx context.Context, timeout time.Duration) ([]Record, error)
	// Wakeup aborts the current Poll, or the next one if none is running.
	// Safe to call from any goroutine.
	Wakeup()
	Close() error
}

type taggedRecord struct {
	generation uint64
	record     Record
}

// NATSConsumer implements Consumer with one ordered consumer per topic.
type NATSConsumer struct {
	client   *natsclient.Client
	logger   *slog.Logger
	maxBatch int

	records chan taggedRecord
	errs    chan error
	wake    chan struct{}

	mu         sync.Mutex
	generation atomic.Uint64
	subs       []jetstream.ConsumeContext
	subsDone   chan struct{}
	closed     atomic.Bool
}

// NewNATSConsumer creates a consumer on client.
func NewNATSConsumer(client *natsclient.Client, logger *slog.Logger) *NATSConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSConsumer{
		client:   client,
		logger:   logger.With("component", "consumer"),
		maxBatch: 500,
		records:  make(chan taggedRecord, 1024),
		errs:     make(chan error, 1),
		wake:     make(chan struct{}, 1),
		subsDone: make(chan struct{}),
	}
}

// Subscribe implements Consumer.
func (c *NATSConsumer) Subscribe(ctx context.Context, topics []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return errors.WrapFatal(errors.ErrDisposed, "NATSConsumer", "Subscribe", "check consumer state")
	}

	c.stopLocked()
	generation := c.generation.Add(1)
	c.subsDone = make(chan struct{})
	c.drain()

	for _, topic := range topics {
		cons, err := c.client.OrderedConsumer(ctx, StreamName(topic), jetstream.OrderedConsumerConfig{
			FilterSubjects: []string{SubjectFilter(topic)},
			DeliverPolicy:  jetstream.DeliverAllPolicy,
		})
		if stderrors.Is(err, jetstream.ErrStreamNotFound) {
			// Not provisioned, e.g. in a dry-run environment
			c.logger.Warn("Skipping topic without stream", "topic", topic)
			continue
		}
		if err != nil {
			c.stopLocked()
			return errors.WrapClassified(err, "NATSConsumer", "Subscribe", "create consumer for "+topic)
		}

		cc, err := cons.Consume(c.handler(generation, topic, c.subsDone),
			jetstream.ConsumeErrHandler(c.handleConsumeError))
		if err != nil {
			c.stopLocked()
			return errors.WrapClassified(err, "NATSConsumer", "Subscribe", "consume "+topic)
		}
		c.subs = append(c.subs, cc)
	}

	c.logger.Debug("Subscribed", "topics", topics, "generation", generation)
	return nil
}

func (c *NATSConsumer) handler(generation uint64, topic string, done <-chan struct{}) jetstream.MessageHandler {
	return func(msg jetstream.Msg) {
		if c.generation.Load() != generation {
			return
		}

		key := msg.Headers().Get(KeyHeader)
		if key == "" {
			var err error
			if key, err = KeyFromSubject(topic, msg.Subject()); err != nil {
				c.logger.Warn("Dropping record without key", "topic", topic, "error", err)
				return
			}
		}

		rec := Record{Topic: topic, Key: key, Value: msg.Data()}
		if meta, err := msg.Metadata(); err == nil {
			rec.Sequence = meta.Sequence.Stream
			rec.Timestamp = meta.Timestamp
		}

		select {
		case c.records <- taggedRecord{generation: generation, record: rec}:
		case <-done:
		}
	}
}

// handleConsumeError forwards errors the ordered consumer cannot recover
// from by itself.
func (c *NATSConsumer) handleConsumeError(_ jetstream.ConsumeContext, err error) {
	if !errors.IsAuth(err) && !stderrors.Is(err, nats.ErrConnectionClosed) {
		c.logger.Debug("Consumer error", "error", err)
		return
	}
	select {
	case c.errs <- err:
	default:
	}
}

// Poll implements Consumer.
func (c *NATSConsumer) Poll(ctx context.Context, timeout time.Duration) ([]Record, error) {
	if c.closed.Load() {
		return nil, errors.WrapFatal(errors.ErrDisposed, "NATSConsumer", "Poll", "check consumer state")
	}

	select {
	case <-c.wake:
		return nil, ErrWakeup
	case err := <-c.errs:
		return nil, errors.WrapClassified(err, "NATSConsumer", "Poll", "consume")
	default:
	}

	if !c.client.IsHealthy() {
		return nil, errors.WrapTransient(errors.ErrConnectionLost, "NATSConsumer", "Poll", "check connection")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var batch []Record
	select {
	case <-c.wake:
		return nil, ErrWakeup
	case err := <-c.errs:
		return nil, errors.WrapClassified(err, "NATSConsumer", "Poll", "consume")
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case tr := <-c.records:
		batch = c.accept(batch, tr)
	}

	for len(batch) < c.maxBatch {
		select {
		case tr := <-c.records:
			batch = c.accept(batch, tr)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (c *NATSConsumer) accept(batch []Record, tr taggedRecord) []Record {
	if tr.generation != c.generation.Load() {
		return batch
	}
	return append(batch, tr.record)
}

// Wakeup implements Consumer.
func (c *NATSConsumer) Wakeup() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Close implements Consumer.
func (c *NATSConsumer) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	return nil
}

func (c *NATSConsumer) stopLocked() {
	for _, cc := range c.subs {
		cc.Stop()
	}
	c.subs = nil
	select {
	case <-c.subsDone:
	default:
		close(c.subsDone)
	}
}

func (c *NATSConsumer) drain() {
	for {
		select {
		case <-c.records:
		default:
			return
		}
	}
}
