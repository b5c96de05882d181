package acl

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HermesGermany/galapagos-sub000/metric"
)

// Metrics holds binding reconciliation metrics. A nil *Metrics records
// nothing.
type Metrics struct {
	bindingOps *prometheus.CounterVec
	reconciles *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	sweeps     *prometheus.CounterVec
}

// NewMetrics registers the acl metrics. A nil registry disables them.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		bindingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "acl",
			Name:      "binding_operations_total",
			Help:      "Bindings created or deleted by reconciliation",
		}, []string{"environment", "operation"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "acl",
			Name:      "reconciliations_total",
			Help:      "Completed reconciliations by outcome",
		}, []string{"environment", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "galapagos",
			Subsystem: "acl",
			Name:      "reconcile_duration_seconds",
			Help:      "Time to reconcile one principal",
			Buckets:   prometheus.DefBuckets,
		}, []string{"environment", "operation"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "galapagos",
			Subsystem: "acl",
			Name:      "sweeps_total",
			Help:      "Reconciliation sweeps over all principals",
		}, []string{"environment"}),
	}

	var err error
	if m.bindingOps, err = metric.RegisterOrExisting(registry, "acl", "binding_operations", m.bindingOps); err != nil {
		return nil, err
	}
	if m.reconciles, err = metric.RegisterOrExisting(registry, "acl", "reconciliations", m.reconciles); err != nil {
		return nil, err
	}
	if m.duration, err = metric.RegisterOrExisting(registry, "acl", "reconcile_duration", m.duration); err != nil {
		return nil, err
	}
	if m.sweeps, err = metric.RegisterOrExisting(registry, "acl", "sweeps", m.sweeps); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) bindingsChanged(env, op string, n int) {
	if m != nil {
		m.bindingOps.WithLabelValues(env, op).Add(float64(n))
	}
}

func (m *Metrics) reconciled(env, op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.reconciles.WithLabelValues(env, op, outcome).Inc()
	m.duration.WithLabelValues(env, op).Observe(d.Seconds())
}

func (m *Metrics) swept(env string) {
	if m != nil {
		m.sweeps.WithLabelValues(env).Inc()
	}
}
