package feed

import (
	"context"
	"time"
)

const (
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second

	// rateLimitBackoff is the minimum wait after a 429 handshake.
	rateLimitBackoff = 60 * time.Second

	dialTimeout = 15 * time.Second
)

// backoff grows the reconnect delay by 1.5x per failure up to max.
type backoff struct {
	base, max, cur time.Duration
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = defaultReconnectDelay
	}
	if max < base {
		max = defaultMaxReconnectDelay
		if max < base {
			max = base
		}
	}
	return &backoff{base: base, max: max, cur: base}
}

// next returns the delay to wait now and grows the following one.
func (b *backoff) next() time.Duration {
	d := b.cur
	b.cur = min(time.Duration(float64(b.cur)*1.5), b.max)
	return d
}

// atLeast raises the next delay to d.
func (b *backoff) atLeast(d time.Duration) {
	if b.cur < d {
		b.cur = d
	}
}

func (b *backoff) reset() { b.cur = b.base }

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
