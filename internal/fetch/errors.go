package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// UpstreamError is a non-2xx response from the upstream API.
type UpstreamError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the error should trigger a retry.
func (e *UpstreamError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// RateLimitError is an explicit overload signal (HTTP 429). RetryAfter is
// zero when the upstream gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "upstream rate limit exceeded"
}

// AuthError means the credential is invalid or expired. Fatal to the run.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Reason
}

// ValidationError marks a malformed or out-of-range upstream response.
// Non-retryable: refetching malformed data yields malformed data.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid upstream response: " + e.Reason
}

// Retryable reports whether the error is worth another attempt: transient
// network failures, timeouts, rate limiting and 5xx responses are;
// validation and auth failures are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	var valErr *ValidationError
	if errors.As(err, &authErr) || errors.As(err, &valErr) {
		return false
	}

	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return upErr.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Unrecognized errors (connection resets surface as *url.Error
	// wrapping *net.OpError, matched above; anything else is unknown
	// transport trouble) default to retryable so a flaky link does not
	// terminally fail units.
	return !errors.Is(err, context.Canceled)
}
