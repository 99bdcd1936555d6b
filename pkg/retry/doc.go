// Package retry runs an operation with exponential backoff.
//
// Only failures that may succeed later are retried. Errors classified as
// invalid or fatal by the errors package, and errors wrapped with
// NonRetryable, end the loop on the first attempt.
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//		return client.Connect(ctx)
//	})
//
// Presets: DefaultConfig (3 attempts, 100ms-5s), Quick (10 attempts,
// 50ms-1s) and Persistent (30 attempts, 200ms-10s).
package retry
