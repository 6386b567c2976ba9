package offlinekit

import (
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before the next retry of a failed
// outbox entry.
type BackoffStrategy interface {
	// NextDelay returns the delay for the given attempt number, starting
	// at 0 for the first retry.
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with a cap and optional
// jitter to avoid thundering-herd retries.
type ExponentialBackoff struct {
	// Initial is the delay for the first retry.
	Initial time.Duration

	// Max caps the delay regardless of attempt count.
	Max time.Duration

	// Multiplier is the factor applied per attempt.
	Multiplier float64

	// Jitter spreads each delay by ±Jitter fraction (0.2 means ±20%).
	// Zero disables jitter.
	Jitter float64
}

// DefaultBackoff returns the backoff used when none is configured:
// base 5s, cap 5min, doubling, ±20% jitter.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		Initial:    5 * time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

// NextDelay returns the capped exponential delay for attempt, jittered.
// The pre-jitter delay is non-decreasing in the attempt number.
func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	initial := eb.Initial
	if initial <= 0 {
		initial = 5 * time.Second
	}
	multiplier := eb.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	delay := float64(initial)
	for i := 0; i < attempt; i++ {
		delay *= multiplier
		if eb.Max > 0 && delay >= float64(eb.Max) {
			delay = float64(eb.Max)
			break
		}
	}
	if eb.Max > 0 && delay > float64(eb.Max) {
		delay = float64(eb.Max)
	}

	if eb.Jitter > 0 {
		// Spread uniformly over [delay*(1-j), delay*(1+j)].
		spread := delay * eb.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}

	return time.Duration(delay)
}
