// Package metric provides the Prometheus registry shared by all components
// and the HTTP server exposing it together with a health endpoint.
//
// Core metrics (environment status, NATS connectivity, classified error
// counts) are registered by NewMetricsRegistry. Components register their own
// vectors through MetricsRegistrar, or through RegisterOrExisting when one
// vector is shared by several environments:
//
//	applied, err := metric.RegisterOrExisting(registry, "replication", "records_applied",
//	    prometheus.NewCounterVec(prometheus.CounterOpts{
//	        Namespace: "galapagos",
//	        Subsystem: "replication",
//	        Name:      "records_applied_total",
//	        Help:      "Replicated records applied to local stores",
//	    }, []string{"environment", "collection"}))
//
// The server exposes:
//
//   - GET /metrics - Prometheus-formatted metrics (path configurable)
//   - GET /health - JSON health document, 503 when unhealthy
//
// All metrics use the namespace "galapagos".
package metric
