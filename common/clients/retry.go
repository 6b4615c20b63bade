package clients

import (
	"math/rand"
	"time"
)

// RetryPolicy controls reconnect pacing. Attempts are 1-based; the
// counter resets after every successful connection.
type RetryPolicy struct {
	// MaxAttempts caps consecutive failures; 0 means retry forever
	MaxAttempts int

	// Backoff returns the wait before the given attempt
	Backoff func(attempt int) time.Duration
}

// DefaultRetryPolicy reconnects forever with capped exponential backoff
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 0,
		Backoff:     ExponentialBackoff(500*time.Millisecond, 30*time.Second),
	}
}

// ExponentialBackoff doubles the base per attempt up to max, with a
// little jitter so reconnecting devices don't stampede
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				d = max
				break
			}
		}
		jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
		return d + jitter
	}
}

// Next reports the wait before the given attempt and whether the policy
// allows it at all
func (p RetryPolicy) Next(attempt int) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt > p.MaxAttempts {
		return 0, false
	}
	if p.Backoff == nil {
		return 0, true
	}
	return p.Backoff(attempt), true
}
