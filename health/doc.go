// Package health provides thread-safe health tracking with three states:
// healthy, degraded and unhealthy.
//
// Each environment reports one Status into a Monitor: healthy while its
// replication loop runs, degraded while the loop backs off after a transient
// error, and unhealthy once the loop stopped on a fatal error. The daemon
// serves Monitor.AggregateHealth on /health.
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("dev", "replicating 3 collections")
//	monitor.UpdateUnhealthy("prod", "authorization violation")
//
//	system := monitor.AggregateHealth("galapagos")
//	system.IsUnhealthy() // true
//
// Aggregation rules: any unhealthy sub-status makes the aggregate unhealthy,
// otherwise any degraded one makes it degraded. Error text passed through
// FromError is sanitized so URLs, paths, addresses and credentials never
// reach the endpoint.
package health
