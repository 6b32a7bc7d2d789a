package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff doubles base for every attempt after the first and spreads the
// result by up to jitter (a fraction, 0.2 for twenty percent) either way.
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << min(max(attempt-1, 0), 20)
	if jitter <= 0 {
		return d
	}
	spread := float64(d) * min(jitter, 1)
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
