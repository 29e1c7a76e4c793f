// Package errors provides standardized error handling for agentroom components.
//
// # Overview
//
// The package implements a three-class error classification system for the
// broadcast pipeline: Transient (temporary, retryable), Invalid (bad input,
// non-retryable), and Fatal (unrecoverable, stop processing).
//
// Classification lets components make informed decisions about retries,
// redelivery, and shutdown without string matching on error text. A malformed
// change-feed record is Invalid (skip and count it), a registry outage is
// Transient (fail the cycle so the batch is redelivered), a bad configuration
// is Fatal (refuse to start).
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Component", "Method", "action")
//	errors.WrapInvalid(err, "Component", "Method", "action")
//	errors.WrapFatal(err, "Component", "Method", "action")
//
// The generic Wrap() preserves the original error's classification through
// the chain, and all types support errors.Is/As/Unwrap.
//
// # Standard Error Variables
//
// Pre-defined variables cover the common conditions: component lifecycle
// (ErrAlreadyStarted, ErrNotStarted), subscriber connections
// (ErrConnectionGone, ErrConnectionTimeout), feed records
// (ErrMalformedRecord, ErrParsingFailed), the connection registry
// (ErrRegistryUnavailable, ErrKeyNotFound), and delivery
// (ErrDeliveryTimeout, ErrBroadcastClosed). Prefer these over ad hoc
// messages so call sites classify consistently.
//
// Context errors (context.DeadlineExceeded, context.Canceled) are classified
// as Transient, so context-based delivery timeouts retry the same way network
// timeouts do.
package errors
