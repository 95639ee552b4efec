package retry

import (
	"math"
	"math/rand"
	"time"
)

// NextDelay computes the delay before retry attempt n (0-based):
// min(maxDelay, base*2^n) plus up to 20% random jitter.
func NextDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}

	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}

	d += d * 0.2 * rand.Float64()
	if d > float64(maxDelay) {
		d = float64(maxDelay)
	}
	return time.Duration(d)
}
