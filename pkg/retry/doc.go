// Package retry offers exponential backoff with optional jitter.
//
// Protocol-layer failures are never retried automatically; retry is for
// callers that decide a failure is worth another attempt:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Start(ctx)
//	})
//
// Wrap an error with NonRetryable to stop the loop at once.
package retry
