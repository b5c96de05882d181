package replication

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HermesGermany/galapagos-sub000/metric"
)

// Metrics holds the replication metrics shared by all environments.
// A nil *Metrics records nothing.
type Metrics struct {
	recordsApplied  *prometheus.CounterVec
	recordsSkipped  *prometheus.CounterVec
	publishFailures *prometheus.CounterVec
	storeSize       *prometheus.GaugeVec
	loopState       *prometheus.GaugeVec
	resubscriptions *prometheus.CounterVec
	pollErrors      *prometheus.CounterVec
}

// NewMetrics registers the replication metrics. A nil registry disables them.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		recordsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "replication",
			Name:      "records_applied_total",
			Help:      "Records applied to collection stores by the ingest loop",
		}, []string{"environment", "collection"}),
		recordsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "replication",
			Name:      "records_skipped_total",
			Help:      "Records dropped by the ingest loop",
		}, []string{"environment", "reason"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "replication",
			Name:      "publish_failures_total",
			Help:      "Saves and deletes whose publish failed",
		}, []string{"environment", "collection"}),
		storeSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "galapagos",
			Subsystem: "replication",
			Name:      "store_records",
			Help:      "Records held by a collection store",
		}, []string{"environment", "collection"}),
		loopState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "galapagos",
			Subsystem: "replication",
			Name:      "loop_state",
			Help:      "Ingest loop state (0=idle, 1=running, 2=stopping, 3=stopped)",
		}, []string{"environment"}),
		resubscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "replication",
			Name:      "resubscriptions_total",
			Help:      "Times the ingest loop resubscribed to its topics",
		}, []string{"environment"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "replication",
			Name:      "poll_errors_total",
			Help:      "Errors returned while subscribing or polling",
		}, []string{"environment", "class"}),
	}

	var err error
	if m.recordsApplied, err = metric.RegisterOrExisting(registry, "replication", "records_applied", m.recordsApplied); err != nil {
		return nil, err
	}
	if m.recordsSkipped, err = metric.RegisterOrExisting(registry, "replication", "records_skipped", m.recordsSkipped); err != nil {
		return nil, err
	}
	if m.publishFailures, err = metric.RegisterOrExisting(registry, "replication", "publish_failures", m.publishFailures); err != nil {
		return nil, err
	}
	if m.storeSize, err = metric.RegisterOrExisting(registry, "replication", "store_records", m.storeSize); err != nil {
		return nil, err
	}
	if m.loopState, err = metric.RegisterOrExisting(registry, "replication", "loop_state", m.loopState); err != nil {
		return nil, err
	}
	if m.resubscriptions, err = metric.RegisterOrExisting(registry, "replication", "resubscriptions", m.resubscriptions); err != nil {
		return nil, err
	}
	if m.pollErrors, err = metric.RegisterOrExisting(registry, "replication", "poll_errors", m.pollErrors); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) applied(env, collection string) {
	if m != nil {
		m.recordsApplied.WithLabelValues(env, collection).Inc()
	}
}

func (m *Metrics) skipped(env, reason string) {
	if m != nil {
		m.recordsSkipped.WithLabelValues(env, reason).Inc()
	}
}

func (m *Metrics) publishFailed(env, collection string) {
	if m != nil {
		m.publishFailures.WithLabelValues(env, collection).Inc()
	}
}

func (m *Metrics) setSize(env, collection string, n int64) {
	if m != nil {
		m.storeSize.WithLabelValues(env, collection).Set(float64(n))
	}
}

func (m *Metrics) setState(env string, state State) {
	if m != nil {
		m.loopState.WithLabelValues(env).Set(float64(state))
	}
}

func (m *Metrics) resubscribed(env string) {
	if m != nil {
		m.resubscriptions.WithLabelValues(env).Inc()
	}
}

func (m *Metrics) pollError(env, class string) {
	if m != nil {
		m.pollErrors.WithLabelValues(env, class).Inc()
	}
}
