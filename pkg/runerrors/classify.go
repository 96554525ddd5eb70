package runerrors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Resource hints which remote object a request addressed, used to
// disambiguate 404 responses.
type Resource string

const (
	ResourceAssistant Resource = "assistant"
	ResourceThread    Resource = "thread"
	ResourceRun       Resource = "run"
	ResourceMessage   Resource = "message"
)

// HTTP status codes with dedicated kinds.
const (
	statusUnauthorized    = 401
	statusPaymentRequired = 402
	statusNotFound        = 404
	statusTooManyRequests = 429
)

// Run failure codes reported in a run's last_error field.
const (
	runErrorCodeRateLimit     = "rate_limit_exceeded"
	runErrorCodeContentFilter = "content_filter"
	runErrorCodeInvalidPrompt = "invalid_prompt"
	runErrorCodeServerError   = "server_error"
)

// FromStatus maps an HTTP status code to a classified error.
// The mapping is pure, total and deterministic:
//
//	401 -> KindAPIKeyInvalid
//	402 -> KindInsufficientCredits
//	429 -> KindRateLimit
//	404 -> KindAssistantNotFound / KindThreadNotFound (by resource)
//	any other non-2xx -> KindAPI carrying the code and server detail
func FromStatus(statusCode int, resource Resource, detail string) *Error {
	switch statusCode {
	case statusUnauthorized:
		return NewWithStatus(KindAPIKeyInvalid, statusCode, detail)
	case statusPaymentRequired:
		return NewWithStatus(KindInsufficientCredits, statusCode, detail)
	case statusTooManyRequests:
		return NewWithStatus(KindRateLimit, statusCode, detail)
	case statusNotFound:
		switch resource {
		case ResourceAssistant:
			return NewWithStatus(KindAssistantNotFound, statusCode, detail)
		case ResourceThread, ResourceRun, ResourceMessage:
			// Runs and messages live under a thread path; a 404 there means
			// the thread is gone as far as the caller is concerned.
			return NewWithStatus(KindThreadNotFound, statusCode, detail)
		default:
			return NewWithStatus(KindAPI, statusCode, detail)
		}
	default:
		return NewWithStatus(KindAPI, statusCode, detail)
	}
}

// FromTransport classifies a transport-level failure that never produced an
// HTTP status. Context cancellation passes through unclassified so callers
// can distinguish user cancellation from remote failure.
func FromTransport(cause error) error {
	if cause == nil {
		return nil
	}

	if errors.Is(cause, context.Canceled) {
		return cause
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		return NewWithCause(KindNetwork, cause, "request timed out")
	}

	var netErr net.Error
	if errors.As(cause, &netErr) {
		return NewWithCause(KindNetwork, cause, "network failure")
	}

	errStr := cause.Error()
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "EOF") {
		return NewWithCause(KindNetwork, cause, "network failure")
	}

	return NewWithCause(KindUnknown, cause, cause.Error())
}

// FromRunFailure maps a terminal non-completed run status and its failure
// detail to a classified error.
//
// Failed runs are further classified by the vendor's last_error code so that
// content-filter and quota failures surface as their own kinds rather than a
// generic RunFailed.
func FromRunFailure(status, code, message string) *Error {
	switch status {
	case "cancelled", "cancelling":
		return New(KindRunCancelled, withDefault(message, "run was cancelled"))
	case "expired":
		return New(KindRunTimeout, withDefault(message, "run expired before completion"))
	case "requires_action":
		return New(KindRunRequiresAction, withDefault(message, "run requires tool action"))
	case "failed":
		switch code {
		case runErrorCodeRateLimit:
			return New(KindRateLimit, withDefault(message, "run failed: rate limit exceeded"))
		case runErrorCodeContentFilter:
			return New(KindContentFiltered, withDefault(message, "run failed: content filtered"))
		case runErrorCodeInvalidPrompt:
			return New(KindRunFailed, withDefault(message, "run failed: invalid prompt"))
		case runErrorCodeServerError:
			return New(KindRunFailed, withDefault(message, "run failed: server error"))
		default:
			return New(KindRunFailed, withDefault(message, "run failed"))
		}
	default:
		return New(KindUnknown, withDefault(message, "run reached unexpected status "+status))
	}
}

func withDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
