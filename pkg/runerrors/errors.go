// Package runerrors provides the closed error taxonomy for assistant-run
// orchestration. Every failure that crosses a package boundary is classified
// into exactly one Kind so call sites can handle each case explicitly.
package runerrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a run-orchestration failure.
type Kind int8

const (
	// KindNetwork represents transport-level failures (unreachable, reset, timeout).
	KindNetwork Kind = iota
	// KindAPIKeyMissing indicates no API credential was configured.
	KindAPIKeyMissing
	// KindAPIKeyInvalid indicates the credential was rejected (401).
	KindAPIKeyInvalid
	// KindRateLimit indicates request throttling (429).
	KindRateLimit
	// KindInsufficientCredits indicates a billing/quota failure (402).
	KindInsufficientCredits
	// KindModelNotAvailable indicates the requested model cannot serve the run.
	KindModelNotAvailable
	// KindContentFiltered indicates the run was stopped by the vendor's content filter.
	KindContentFiltered
	// KindAssistantNotFound indicates a 404 on an assistant path.
	KindAssistantNotFound
	// KindThreadNotFound indicates a 404 on a thread path. Recoverable by
	// recreating the thread (the thread manager retries exactly once).
	KindThreadNotFound
	// KindRunFailed indicates the remote run reached the failed status.
	KindRunFailed
	// KindRunTimeout indicates polling exceeded its ceiling, or the remote run expired.
	KindRunTimeout
	// KindRunCancelled indicates the remote run was cancelled.
	KindRunCancelled
	// KindRunRequiresAction indicates the run is waiting for tool output.
	// There is no tool-execution loop, so this is a fatal terminal state.
	KindRunRequiresAction
	// KindFormatNotSet indicates an operation required an active response format.
	KindFormatNotSet
	// KindAPI is the catch-all for known HTTP statuses with server-supplied detail.
	KindAPI
	// KindUnknown is the last resort; always carries a human-readable detail.
	KindUnknown
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAPIKeyMissing:
		return "api_key_missing"
	case KindAPIKeyInvalid:
		return "api_key_invalid"
	case KindRateLimit:
		return "rate_limit"
	case KindInsufficientCredits:
		return "insufficient_credits"
	case KindModelNotAvailable:
		return "model_not_available"
	case KindContentFiltered:
		return "content_filtered"
	case KindAssistantNotFound:
		return "assistant_not_found"
	case KindThreadNotFound:
		return "thread_not_found"
	case KindRunFailed:
		return "run_failed"
	case KindRunTimeout:
		return "run_timeout"
	case KindRunCancelled:
		return "run_cancelled"
	case KindRunRequiresAction:
		return "run_requires_action"
	case KindFormatNotSet:
		return "format_not_set"
	case KindAPI:
		return "api_error"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified orchestration error with the underlying cause attached.
type Error struct {
	Err        error  // Wrapped underlying error
	Detail     string // Human-readable detail
	Kind       Kind   // Classified kind
	StatusCode int    // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("run error (%s): %s", e.Kind.String(), e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("run error (%s): %v", e.Kind.String(), e.Err)
	}
	return fmt.Sprintf("run error (%s): status %d", e.Kind.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a caller may reasonably retry this kind.
// Advisory only: nothing in the pipeline retries automatically except the
// thread manager's single recreate-and-retry on KindThreadNotFound.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindNetwork, KindRateLimit, KindRunTimeout:
		return true
	default:
		return false
	}
}

// Is checks if an error is classified as a specific kind.
func Is(err error, kind Kind) bool {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Kind == kind
	}
	return false
}

// KindOf returns the kind of an error, or KindUnknown if not classified.
func KindOf(err error) Kind {
	var runErr *Error
	if errors.As(err, &runErr) {
		return runErr.Kind
	}
	return KindUnknown
}

// New creates a new classified error.
func New(kind Kind, detail string) *Error {
	return &Error{
		Kind:   kind,
		Detail: detail,
	}
}

// NewWithStatus creates a new classified error with HTTP status.
func NewWithStatus(kind Kind, statusCode int, detail string) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: statusCode,
		Detail:     detail,
	}
}

// NewWithCause creates a new classified error wrapping another error.
func NewWithCause(kind Kind, cause error, detail string) *Error {
	return &Error{
		Kind:   kind,
		Err:    cause,
		Detail: detail,
	}
}
