package offlinekit

import (
	"testing"
	"time"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	eb := &ExponentialBackoff{
		Initial:    5 * time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2.0,
	}

	var prev time.Duration
	for attempt := 0; attempt < 12; attempt++ {
		d := eb.NextDelay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %s < %s", attempt, d, prev)
		}
		if d > 5*time.Minute {
			t.Fatalf("delay %s exceeds cap at attempt %d", d, attempt)
		}
		prev = d
	}

	if got := eb.NextDelay(0); got != 5*time.Second {
		t.Errorf("first delay = %s, want 5s", got)
	}
	if got := eb.NextDelay(100); got != 5*time.Minute {
		t.Errorf("saturated delay = %s, want 5m", got)
	}
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	eb := &ExponentialBackoff{
		Initial:    10 * time.Second,
		Max:        5 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.2,
	}

	lo := time.Duration(float64(10*time.Second) * 0.8)
	hi := time.Duration(float64(10*time.Second) * 1.2)
	for i := 0; i < 200; i++ {
		d := eb.NextDelay(0)
		if d < lo || d > hi {
			t.Fatalf("jittered delay %s outside [%s, %s]", d, lo, hi)
		}
	}
}

func TestBackoffNegativeAttempt(t *testing.T) {
	eb := DefaultBackoff()
	eb.Jitter = 0
	if got := eb.NextDelay(-3); got != eb.Initial {
		t.Errorf("NextDelay(-3) = %s, want %s", got, eb.Initial)
	}
}

func TestDefaultBackoffValues(t *testing.T) {
	eb := DefaultBackoff()
	if eb.Initial != 5*time.Second || eb.Max != 5*time.Minute || eb.Multiplier != 2.0 || eb.Jitter != 0.2 {
		t.Errorf("unexpected defaults: %+v", eb)
	}
}
