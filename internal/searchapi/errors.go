package searchapi

import (
	"errors"
	"fmt"
	"time"
)

// TransportError is a network-level failure (connect, timeout). Retried
// with backoff before being surfaced.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("search api transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitError is a 429 that survived all retries. RetryAfter carries the
// server-specified delay when the Retry-After header was present.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("search api rate limited, retry after %s", e.RetryAfter)
	}
	return "search api rate limited"
}

// AuthError is a 401/403 credential rejection. Never retried; the operator
// has to fix the configured tokens.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("search api auth failed (status %d): %s", e.Status, e.Detail)
}

// QuotaError means the daily request cap is exhausted. Never retried;
// scheduled scanning should pause for the rest of the period.
type QuotaError struct {
	Detail string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("search api quota exceeded: %s", e.Detail)
}

// StatusError is any other non-2xx response.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search api status %d: %s", e.Status, e.Detail)
}

// IsFatal reports whether err is a credential or quota failure, i.e. one
// that job-level retrying cannot fix.
func IsFatal(err error) bool {
	var authErr *AuthError
	var quotaErr *QuotaError
	return errors.As(err, &authErr) || errors.As(err, &quotaErr)
}

// IsRetryable reports whether err is worth retrying at the job level
// (transport, rate limit, or transient upstream status).
func IsRetryable(err error) bool {
	var transportErr *TransportError
	var rateErr *RateLimitError
	var statusErr *StatusError
	if errors.As(err, &transportErr) || errors.As(err, &rateErr) {
		return true
	}
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500
	}
	return false
}
