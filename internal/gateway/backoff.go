package gateway

import (
	"math/rand"
	"time"
)

// backoffDelay computes the retry delay for the given zero-based attempt:
// base * 2^attempt, clamped to max, with random jitter of up to ±20%.
// Because each step doubles, the jittered delays stay non-decreasing
// until the clamp is reached.
func backoffDelay(base, max time.Duration, attempt int, jitter func() float64) time.Duration {
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}

	// jitter() in [0,1) maps to a factor in [0.8, 1.2).
	f := 1 + (jitter()*0.4 - 0.2)
	d = time.Duration(float64(d) * f)
	if d > max {
		d = max
	}
	if d < 0 {
		d = 0
	}
	return d
}

func defaultJitter() float64 { return rand.Float64() }
