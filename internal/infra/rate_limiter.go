package infra

import (
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter is a non-blocking token bucket. Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewRateLimiter creates a full bucket of burst tokens refilled at perSecond.
func NewRateLimiter(burst int, perSecond float64) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		now:     time.Now,
	}
}

// TryAcquire takes a token if one is available.
func (r *RateLimiter) TryAcquire() bool {
	return r.limiter.AllowN(r.now(), 1)
}

// RetryAfter is how long until the next token, zero if one is available now.
// It reports false when no token will ever be refilled.
func (r *RateLimiter) RetryAfter() (time.Duration, bool) {
	if r.limiter.Limit() <= 0 {
		return 0, false
	}
	now := r.now()
	res := r.limiter.ReserveN(now, 1)
	if !res.OK() {
		return 0, false
	}
	defer res.CancelAt(now)
	d := res.DelayFrom(now)
	if d == rate.InfDuration {
		return 0, false
	}
	return d, true
}
