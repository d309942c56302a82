package realtime

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decides how long to wait before resubscribing after the
// subscription drops.
type Retryer interface {
	// NextDelay returns the delay before the next attempt.
	// attempt is 0-based. Returns false to give up.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a subscription is established.
	Reset()
}

// ExponentialBackoffRetryer implements exponential backoff with jitter.
type ExponentialBackoffRetryer struct {
	// InitialDelay is the first retry delay.
	InitialDelay time.Duration

	// MaxDelay caps the delay.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// MaxRetries is the maximum number of attempts (0 for infinite).
	MaxRetries int

	// JitterFactor is the maximum jitter as a fraction of the delay (0.0 to 1.0).
	JitterFactor float64
}

// NewExponentialBackoffRetryer creates a retryer with defaults:
// 500ms doubling up to 30s, infinite retries, 30% jitter.
func NewExponentialBackoffRetryer() *ExponentialBackoffRetryer {
	return &ExponentialBackoffRetryer{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

// NextDelay implements Retryer.
func (r *ExponentialBackoffRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security-critical
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

// Reset implements Retryer.
func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer waits the same delay between attempts.
type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

// NewFixedDelayRetryer creates a fixed delay retryer (maxRetries 0 for infinite).
func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

// NextDelay implements Retryer.
func (r *FixedDelayRetryer) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

// Reset implements Retryer.
func (r *FixedDelayRetryer) Reset() {}
