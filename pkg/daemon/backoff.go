package daemon

import "time"

// Backoff tracks the wait between delivery cycles. After a successful
// delivery the wait resets to the base interval; after a failure it doubles
// from its current value up to the ceiling.
//
// The ceiling is max(base, maxDelay), so the wait always stays within
// [base, max(base, maxDelay)]. With the default 5m/5m configuration this means
// failures never lengthen the wait at all.
type Backoff struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
}

// NewBackoff returns a Backoff whose current delay starts at base.
func NewBackoff(base, maxDelay time.Duration) *Backoff {
	ceiling := maxDelay
	if ceiling < base {
		ceiling = base
	}
	return &Backoff{base: base, ceiling: ceiling, current: base}
}

// Current returns the delay that will be slept next.
func (b *Backoff) Current() time.Duration { return b.current }

// Base returns the base interval.
func (b *Backoff) Base() time.Duration { return b.base }

// Ceiling returns the upper bound of the delay.
func (b *Backoff) Ceiling() time.Duration { return b.ceiling }

// Degenerate reports whether failures can never lengthen the delay.
func (b *Backoff) Degenerate() bool { return b.ceiling <= b.base }

// Success resets the delay to the base interval and returns it.
func (b *Backoff) Success() time.Duration {
	b.current = b.base
	return b.current
}

// Failure doubles the current delay, capped at the ceiling, and returns it.
func (b *Backoff) Failure() time.Duration {
	if b.current > b.ceiling/2 {
		b.current = b.ceiling
	} else {
		b.current *= 2
	}
	return b.current
}
