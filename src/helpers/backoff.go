package helpers

import (
	"context"
	"math/rand"
	"time"
)

// -----------------------------------------------------------------------------

// SleepContext waits for d or until ctx is done, whichever comes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// -----------------------------------------------------------------------------

// JitterDelay returns base plus a uniform random duration in [0, spread).
func JitterDelay(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(spread)))
}

// -----------------------------------------------------------------------------
// ExponentialBackoff
// -----------------------------------------------------------------------------

// ExponentialBackoff yields base, then min(max, prev*multiplier + jitter).
type ExponentialBackoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     time.Duration // upper bound of the additive random term
	Rand       func() float64

	current time.Duration
}

func NewExponentialBackoff(base, max time.Duration, multiplier float64, jitter time.Duration) *ExponentialBackoff {
	return &ExponentialBackoff{
		Base:       base,
		Max:        max,
		Multiplier: multiplier,
		Jitter:     jitter,
		Rand:       rand.Float64,
		current:    base,
	}
}

// -----------------------------------------------------------------------------

// Current returns the delay the next failure should wait.
func (b *ExponentialBackoff) Current() time.Duration {
	if b.current == 0 {
		b.current = b.Base
	}
	return b.current
}

// -----------------------------------------------------------------------------

// Next returns the current delay and advances to the following one.
func (b *ExponentialBackoff) Next() time.Duration {
	d := b.Current()
	r := 0.0
	if b.Rand != nil {
		r = b.Rand()
	}
	next := time.Duration(float64(d)*b.Multiplier) + time.Duration(r*float64(b.Jitter))
	if next > b.Max {
		next = b.Max
	}
	b.current = next
	return d
}

// -----------------------------------------------------------------------------

// Reset goes back to the base delay after a success.
func (b *ExponentialBackoff) Reset() {
	b.current = b.Base
}
