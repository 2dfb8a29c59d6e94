package scheduler

import (
	"math/rand"
	"time"
)

// RetryPolicy computes delays for transient unit failures: exponential
// growth from BaseDelay, capped at MaxDelay, with jitter so workers
// retrying at once do not stampede the upstream.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NextDelay returns the delay before retry number attempt (1-based).
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	// Jitter in [0.75, 1.25).
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

// Exhausted reports whether a unit with the given attempt count has no
// retries left.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
