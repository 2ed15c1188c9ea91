// Package errors provides centralized error definitions for the signal engine.
//
// Naming conventions:
//   - Exported errors (Err*): for callers that check with errors.Is
//   - All sentinel errors are variables, not inline errors.New calls
//   - Use fmt.Errorf with %w to wrap sentinel errors with context
package errors

import "errors"

// Storage errors.
var (
	// ErrNotFound is a generic not found error.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate row")
)

// Notification errors.
var (
	// ErrDailyCapReached indicates the user already received the maximum
	// number of alerts for the rolling 24h window.
	ErrDailyCapReached = errors.New("daily alert cap reached")

	// ErrMailUnavailable indicates the mail transport is unreachable or its
	// circuit breaker is open; the send should be retried on a later cycle.
	ErrMailUnavailable = errors.New("mail transport unavailable")

	// ErrMissingRecipient indicates a preference row without a usable address.
	ErrMissingRecipient = errors.New("missing recipient address")
)

// Preference errors.
var (
	// ErrInvalidDigestTime indicates a digest_time value outside HH:MM form.
	ErrInvalidDigestTime = errors.New("invalid digest time")
)
