package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HermesGermany/galapagos-sub000/metric"
)

// jetstreamMetrics holds Prometheus metrics for the streams of one environment.
type jetstreamMetrics struct {
	environment string

	streamMessages *prometheus.GaugeVec
	streamBytes    *prometheus.GaugeVec
	streamState    *prometheus.GaugeVec // 1=active, 0=unavailable
	errors         *prometheus.CounterVec

	mu      sync.RWMutex
	streams map[string]jetstream.Stream
}

// newJetStreamMetrics creates and registers JetStream metrics. Vectors are
// shared between environments; the environment label tells them apart.
func newJetStreamMetrics(registry *metric.MetricsRegistry, environment string) (*jetstreamMetrics, error) {
	m := &jetstreamMetrics{
		environment: environment,
		streamMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "galapagos",
			Subsystem: "jetstream",
			Name:      "stream_messages",
			Help:      "Current number of messages in stream",
		}, []string{"environment", "stream"}),

		streamBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "galapagos",
			Subsystem: "jetstream",
			Name:      "stream_bytes",
			Help:      "Storage bytes used by stream",
		}, []string{"environment", "stream"}),

		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "galapagos",
			Subsystem: "jetstream",
			Name:      "stream_state",
			Help:      "Stream state (1=active, 0=unavailable)",
		}, []string{"environment", "stream"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Total number of JetStream operation errors",
		}, []string{"environment", "operation"}),

		streams: make(map[string]jetstream.Stream),
	}

	var err error
	if m.streamMessages, err = metric.RegisterOrExisting(registry, "jetstream", "stream_messages", m.streamMessages); err != nil {
		return nil, err
	}
	if m.streamBytes, err = metric.RegisterOrExisting(registry, "jetstream", "stream_bytes", m.streamBytes); err != nil {
		return nil, err
	}
	if m.streamState, err = metric.RegisterOrExisting(registry, "jetstream", "stream_state", m.streamState); err != nil {
		return nil, err
	}
	if m.errors, err = metric.RegisterOrExisting(registry, "jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil || stream == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamState.WithLabelValues(m.environment, name).Set(1)
}

func (m *jetstreamMetrics) untrackStream(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, name)
	m.streamMessages.DeleteLabelValues(m.environment, name)
	m.streamBytes.DeleteLabelValues(m.environment, name)
	m.streamState.DeleteLabelValues(m.environment, name)
}

func (m *jetstreamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(m.environment, operation).Inc()
	}
}

// updateStats refreshes every tracked stream. Unavailable streams are marked
// inactive instead of failing the poll.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for k, v := range m.streams {
		streams[k] = v
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(m.environment, name).Set(0)
			continue
		}
		m.streamMessages.WithLabelValues(m.environment, name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(m.environment, name).Set(float64(info.State.Bytes))
		m.streamState.WithLabelValues(m.environment, name).Set(1)
	}
}

// StartMetricsPoller polls stream statistics until ctx is cancelled. It is a
// no-op when the client was built without WithMetrics.
func (c *Client) StartMetricsPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	m := c.jsMetrics
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
