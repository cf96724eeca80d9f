package channel

import (
	"math"
	"time"
)

// Backoff computes reconnection delays: Base + min(Growth^attempt ms, Cap).
type Backoff struct {
	Base   time.Duration
	Growth float64
	Cap    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 200 * time.Millisecond, Growth: 5, Cap: 5 * time.Second}
}

// Delay returns the wait before the given attempt, where attempt counts the
// consecutive closes since the last successful open.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	capMs := float64(b.Cap / time.Millisecond)
	ms := math.Pow(b.Growth, float64(attempt))
	if math.IsNaN(ms) || ms > capMs {
		ms = capMs
	}
	return b.Base + time.Duration(ms*float64(time.Millisecond))
}
