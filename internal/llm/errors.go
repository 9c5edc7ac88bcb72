package llm

import (
	"context"
	"errors"
)

// Sentinel errors classifying generation/embedding backend failures.
// Implementations wrap these with fmt.Errorf("%w: ...") so callers can use
// errors.Is without depending on provider-specific error text.
var (
	// ErrRateLimited indicates the backend rejected the call for quota
	// reasons (HTTP 429). Retryable.
	ErrRateLimited = errors.New("backend rate limited")

	// ErrTimeout indicates the call did not complete in time. Retryable.
	ErrTimeout = errors.New("backend timeout")

	// ErrUnavailable indicates a transient server-side failure (HTTP 5xx).
	// Retryable.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrInvalidRequest indicates the request itself was rejected
	// (HTTP 4xx other than 429). Never retried.
	ErrInvalidRequest = errors.New("invalid backend request")
)

// Transient reports whether err is expected to resolve on retry.
// Rate limits, timeouts, and server-side unavailability are transient;
// malformed requests and context cancellation are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable)
}
