package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", &RateLimitError{RetryAfter: time.Second}, true},
		{"server error", &UpstreamError{StatusCode: 503}, true},
		{"bad request", &UpstreamError{StatusCode: 400}, false},
		{"not found", &UpstreamError{StatusCode: 404}, false},
		{"auth", &AuthError{Reason: "expired"}, false},
		{"validation", &ValidationError{Reason: "high below low"}, false},
		{"wrapped auth", fmt.Errorf("fetch expiries: %w", &AuthError{Reason: "x"}), false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"unknown transport", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	e := &RateLimitError{RetryAfter: 30 * time.Second}
	if e.Error() != "upstream rate limit exceeded, retry after 30s" {
		t.Errorf("Error() = %q", e.Error())
	}
	if (&RateLimitError{}).Error() != "upstream rate limit exceeded" {
		t.Errorf("Error() without hint = %q", (&RateLimitError{}).Error())
	}
}
