package session

import (
	"math/rand"
	"time"
)

// Next returns how long to wait after dial attempt n (1-based) failed, and
// false once MaxAttempts is spent. The delay grows by Multiplier from
// InitialDelay and never exceeds MaxDelay, jitter included.
func (b BackoffConfig) Next(attempt int, rng *rand.Rand) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	if b.InitialDelay <= 0 {
		return 0, true
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if b.MaxDelay > 0 && delay >= float64(b.MaxDelay) {
			break
		}
	}
	if b.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	return time.Duration(delay), true
}
