// Package replication keeps typed, in-memory collections consistent with
// compacted topics of one environment.
//
// A Container owns every collection of an environment and runs a single
// ingest loop. The loop stays Idle until the first collection is registered,
// then subscribes to all collection topics from the earliest record and
// applies whatever it reads to the matching Store. Registering another
// collection resubscribes, which replays every topic from the start; applying
// a record twice has no effect beyond the first.
//
// Each record on a collection topic is a JSON envelope:
//
//	{"obj": {...}}      upsert of the record stored under the message key
//	{"deleted": true}   tombstone removing the key
//
// Store writes are eager: Save and Delete change the local view before the
// publish completes and do not roll back when it fails. AwaitReady is a
// heuristic that resolves once replay has been quiet for an idle window.
//
// Authorization failures stop the loop for good. Stores keep serving their
// last state and Container.Err reports the cause.
package replication
