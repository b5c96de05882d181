package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains process-level metrics shared by all environments
type Metrics struct {
	EnvironmentStatus  *prometheus.GaugeVec
	NATSConnected      *prometheus.GaugeVec
	NATSReconnects     *prometheus.CounterVec
	NATSCircuitBreaker *prometheus.GaugeVec
	ErrorsTotal        *prometheus.CounterVec
}

// NewMetrics creates the core metrics, unregistered
func NewMetrics() *Metrics {
	return &Metrics{
		EnvironmentStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "galapagos",
				Subsystem: "environment",
				Name:      "status",
				Help:      "Environment status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"environment"},
		),

		NATSConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "galapagos",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
			[]string{"environment"},
		),

		NATSReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "galapagos",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
			[]string{"environment"},
		),

		NATSCircuitBreaker: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "galapagos",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open)",
			},
			[]string{"environment"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "galapagos",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by component and class",
			},
			[]string{"component", "class"},
		),
	}
}

func (c *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.EnvironmentStatus,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
		c.ErrorsTotal,
	)
}

// RecordEnvironmentStatus updates the environment status gauge
func (c *Metrics) RecordEnvironmentStatus(environment string, status int) {
	c.EnvironmentStatus.WithLabelValues(environment).Set(float64(status))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(environment string, connected bool) {
	c.NATSConnected.WithLabelValues(environment).Set(boolToFloat(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect(environment string) {
	c.NATSReconnects.WithLabelValues(environment).Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(environment string, open bool) {
	c.NATSCircuitBreaker.WithLabelValues(environment).Set(boolToFloat(open))
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, class string) {
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
