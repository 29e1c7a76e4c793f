// Package retry provides exponential backoff for transient failures,
// mainly around KV and JetStream operations in natsclient.
//
// It is deliberately minimal: backoff with jitter, context
// cancellation, and a NonRetryable marker for errors that redelivery
// cannot fix. Circuit breaking and metrics live at the call site.
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect()
//	})
//
// To abort early from inside fn, wrap the error:
//
//	return retry.NonRetryable(err)
package retry
