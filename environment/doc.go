// Package environment connects every configured cluster and owns the
// per-environment handles: admin facade, sender and ingest loop.
//
// Open connects all environments concurrently through a ConnectionFactory.
// NATSFactory is the production factory; it applies credentials and TLS from
// the environment configuration and retries with the retry.Connect policy.
// Environments marked dry_run get their admin facade wrapped so that
// mutations are recorded and logged instead of executed.
package environment
