// Package galapagos replicates small internal collections across NATS
// JetStream clusters and keeps the permission bindings of each cluster in
// line with a desired state.
//
// # Environments
//
// Every configured environment is one independent JetStream cluster. The
// daemon (cmd/galapagos) connects all of them at startup, starts one ingest
// loop per environment and, once the principal specs are loaded, sweeps the
// permission bindings of every principal on a fixed interval.
//
// # Packages
//
//	future       write-once results and the completion decoupler that moves
//	             continuations off foreign client goroutines
//	cluster      admin facade, sender and consumer over JetStream, plus the
//	             dry-run decorator
//	replication  the per-environment ingest loop (Container) and the typed,
//	             replicated collections (Store)
//	acl          binding set algebra, the per-principal Reconciler and the
//	             rate-limited Sweeper
//	environment  connects and owns the environments of one process
//	config       JSON/YAML configuration with schema validation and
//	             GALAPAGOS_* overrides
//	natsclient   NATS connection with circuit breaker, KV and stream helpers
//	metric       Prometheus registry and the /metrics and /health server
//	health       status values and their aggregation
//	errors       error classification (transient, invalid, fatal)
//	testutil     in-memory cluster for unit tests
//
// # Topic mapping
//
// A collection named "widgets" in an environment with the internal prefix
// "galapagos." lives in the topic "galapagos.widgets": a stream with a single
// ordered log whose subjects are "galapagos.widgets.<base64url(key)>". The
// stream keeps one message per subject, which gives the topic
// compaction semantics. Values are JSON envelopes:
//
//	{"obj": {...}}      upsert
//	{"deleted": true}   tombstone
//
// # Consistency
//
// Writes through a Store apply locally before they are published and are
// not rolled back if publishing fails. Every process converges on the log
// order as it replays. Readiness after startup is a heuristic: AwaitReady
// resolves once no record has arrived for an idle window.
//
// # Running
//
//	go build -o bin/galapagos ./cmd/galapagos
//	./bin/galapagos --config configs/galapagos.yaml
//
// Integration tests start NATS in a container:
//
//	go test -tags integration ./...
package galapagos
