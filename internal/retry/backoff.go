package retry

import (
	"math"
	"math/rand"
	"time"
)

// delay returns the pause taken after the given failed attempt. The curve
// is InitialDelay * Factor^(attempt-1), capped at MaxDelay.
func (c Config) delay(attempt int) time.Duration {
	return c.delaySampled(attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// delaySampled takes the jitter sample as an argument so tests can pin it.
// The sample is expected in [0, 1) and spreads the delay over [0.5, 1.5]
// of the base value.
func (c Config) delaySampled(attempt int, sample float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(c.InitialDelay) * math.Pow(c.Factor, float64(attempt-1))
	if base > float64(c.MaxDelay) {
		base = float64(c.MaxDelay)
	}
	if c.Jitter {
		base *= 0.5 + sample
	}
	return time.Duration(base)
}
