package cluster

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/HermesGermany/galapagos-sub000/errors"
	"github.com/HermesGermany/galapagos-sub000/future"
	"github.com/HermesGermany/galapagos-sub000/natsclient"
)

// Sender publishes records. Implementations are safe for concurrent use.
type Sender interface {
	// Send publishes value under key. The future completes once the cluster
	// acknowledged the record.
	Send(ctx context.Context, topic, key string, value []byte) *future.Future[struct{}]
}

// NATSSender publishes with JetStream asynchronous publish.
type NATSSender struct {
	client    *natsclient.Client
	decoupler *future.Decoupler
	logger    *slog.Logger
}

// NewNATSSender creates a sender on client. A nil decoupler selects the
// process-wide one.
func NewNATSSender(client *natsclient.Client, decoupler *future.Decoupler, logger *slog.Logger) *NATSSender {
	if decoupler == nil {
		decoupler = future.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSender{
		client:    client,
		decoupler: decoupler,
		logger:    logger.With("component", "sender"),
	}
}

// Send implements Sender.
func (s *NATSSender) Send(ctx context.Context, topic, key string, value []byte) *future.Future[struct{}] {
	if err := ctx.Err(); err != nil {
		return future.Failed[struct{}](errors.WrapTransient(err, "NATSSender", "Send", "publish record"))
	}
	if key == "" {
		return future.Failed[struct{}](errors.WrapInvalid(errors.ErrInvalidRecord, "NATSSender", "Send", "check record key"))
	}
	if err := ValidateTopicName(topic); err != nil {
		return future.Failed[struct{}](err)
	}

	msg := nats.NewMsg(RecordSubject(topic, key))
	msg.Header.Set(KeyHeader, key)
	msg.Data = value

	ack, err := s.client.PublishAsync(msg)
	if err != nil {
		return future.Failed[struct{}](errors.WrapClassified(err, "NATSSender", "Send", "publish record"))
	}

	acked := future.Decouple(s.decoupler, future.FromChannels[*jetstream.PubAck](ack.Ok(), ack.Err()))

	p := future.NewPromise[struct{}]()
	acked.OnComplete(func(_ *jetstream.PubAck, err error) {
		if err != nil {
			s.logger.Warn("Publish failed", "topic", topic, "key", key, "error", err)
			p.Fail(errors.WrapClassified(err, "NATSSender", "Send", "await publish ack"))
			return
		}
		p.Complete(struct{}{})
	})
	return p.Future()
}
