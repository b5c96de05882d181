// Package errors provides standardized error handling for the replication
// engine and the permission reconciler.
//
// # Classification
//
// Errors fall into three classes:
//
//   - Transient: broker hiccups, timeouts, lost connections. The ingest loop
//     backs off and resumes; admin and reconcile calls surface them as failed
//     futures.
//   - Invalid: malformed wire records, type mismatches, bad input. Never retried.
//   - Fatal: authentication and authorization failures, broken configuration.
//     An ingest loop that sees one stops for good.
//
// Authorization failures reported by the NATS client (authorization and
// permission violations, expired or revoked credentials, JetStream API 401/403)
// are detected by IsAuth and always classify as fatal, even when wrapped as
// transient further up the call stack.
//
// # Wrapping
//
// All wrappers use the format
//
//	"component.method: action failed: %w"
//
// Use WrapTransient, WrapInvalid and WrapFatal to attach a class, Wrap to keep
// whatever class the cause already has, and WrapClassified to attach the class
// Classify derives from the cause:
//
//	if err := admin.CreateTopic(ctx, spec).Wait(ctx); err != nil {
//	    return errors.WrapClassified(err, "Container", "Register", "create topic")
//	}
//
// All types work with the standard errors.Is and errors.As.
package errors
