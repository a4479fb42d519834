package infra

import (
	"time"
)

// Backoff computes capped exponential reconnect delays: Base * 2^attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used by the tick feed when no policy is configured.
var DefaultBackoff = Backoff{Base: 1 * time.Second, Max: 60 * time.Second}

// Delay returns the wait before reconnect attempt n (0-based). Negative n returns Base.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		b = DefaultBackoff
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	if attempt <= 0 {
		return b.Base
	}
	// 2^30 seconds is far past any sane Max; avoid shifting into overflow.
	if attempt > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<attempt)
	if d <= 0 || d > b.Max {
		return b.Max
	}
	return d
}
