// Package retry provides exponential backoff for transient failures.
//
// Do runs a function until it succeeds, the attempts are exhausted, the
// context ends, or the function returns an error that must not be retried.
// Errors wrapped with NonRetryable stop at once, and so do errors that
// package errors classifies as fatal or invalid: a rejected credential is
// never retried.
//
// Connect is the policy used when dialling an environment:
//
//	cfg := retry.Connect()
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("Connect failed, retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
//	err := retry.Do(ctx, cfg, func() error { return client.Connect(ctx) })
package retry
