package jobs

import (
	"time"
)

const (
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Backoff computes the delay before a retryable failure may be claimed
// again. The delay doubles with every attempt and is capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the 2s base, 5m cap policy.
func DefaultBackoff() Backoff {
	return Backoff{Base: defaultBackoffBase, Max: defaultBackoffMax}
}

// Delay returns the wait after the given 1-based attempt failed.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = defaultBackoffBase
	}
	limit := b.Max
	if limit <= 0 {
		limit = defaultBackoffMax
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
