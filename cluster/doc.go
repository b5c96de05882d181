// Package cluster is the seam between the replication engine and an
// environment's NATS JetStream cluster.
//
// Admin covers topics, cluster metadata, topic configuration and permission
// bindings. Sender publishes records and Consumer reads them back. The NATS
// implementations map the vocabulary onto JetStream:
//
//   - a topic is a stream named after the sanitized topic name, capturing
//     the subjects "<topic>.>"; it always has exactly one partition
//   - a record key is carried in the Galapagos-Key header and, base64url
//     encoded, as the last subject token
//   - compaction keeps one message per subject (cleanup.policy=compact)
//   - bindings are entries of the environment's authorization KV bucket,
//     keyed by Binding.Key
//
// NATSAdmin executes every call on a single client goroutine and returns
// futures decoupled from it, so a continuation may issue further admin calls
// without deadlocking. DryRunAdmin records writes instead of executing them.
package cluster
