package distributed

import (
	"context"
	"time"
)

// Backoff is an exponential delay between compare-and-swap retries. The zero
// value disables waiting: conflicting writers retry immediately.
type Backoff struct {
	// Min is the first delay.
	Min time.Duration

	// Max caps the delay. Zero means 64 times Min.
	Max time.Duration

	delay time.Duration
}

// Enabled reports whether b waits at all.
func (b *Backoff) Enabled() bool {
	return b.Min > 0
}

// Wait sleeps for the next delay, doubling it each call up to Max. It
// returns early with the context's error if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.Enabled() {
		return nil
	}

	max := b.Max
	if max == 0 {
		max = 64 * b.Min
	}
	if b.delay == 0 {
		b.delay = b.Min
	} else {
		b.delay *= 2
	}
	if b.delay > max {
		b.delay = max
	}

	t := time.NewTimer(b.delay)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
