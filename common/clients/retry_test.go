package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff_DoublesUpToMax(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 8*time.Second)

	cases := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, time.Second, time.Second + 250*time.Millisecond},
		{2, 2 * time.Second, 2*time.Second + 500*time.Millisecond},
		{3, 4 * time.Second, 5 * time.Second},
		{4, 8 * time.Second, 10 * time.Second},
		{10, 8 * time.Second, 10 * time.Second},
	}

	for _, tc := range cases {
		d := backoff(tc.attempt)
		assert.GreaterOrEqual(t, d, tc.min, "attempt %d", tc.attempt)
		assert.LessOrEqual(t, d, tc.max, "attempt %d", tc.attempt)
	}
}

func TestRetryPolicy_MaxAttempts(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     func(int) time.Duration { return time.Millisecond },
	}

	for attempt := 1; attempt <= 3; attempt++ {
		_, ok := policy.Next(attempt)
		assert.True(t, ok, "attempt %d", attempt)
	}

	_, ok := policy.Next(4)
	assert.False(t, ok)
}

func TestRetryPolicy_ZeroMeansForever(t *testing.T) {
	policy := DefaultRetryPolicy()

	_, ok := policy.Next(1000)
	assert.True(t, ok)
}
