package infra

import (
	"testing"
	"time"
)

func newTestLimiter(burst int, perSecond float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	rl := NewRateLimiter(burst, perSecond)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_TryAcquire(t *testing.T) {
	rl, _ := newTestLimiter(2, 10)

	if !rl.TryAcquire() {
		t.Error("expected first TryAcquire to succeed")
	}
	if !rl.TryAcquire() {
		t.Error("expected second TryAcquire to succeed")
	}
	if rl.TryAcquire() {
		t.Error("expected third TryAcquire to fail")
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	rl, clock := newTestLimiter(1, 10)

	if !rl.TryAcquire() {
		t.Fatal("expected first TryAcquire to succeed")
	}
	if rl.TryAcquire() {
		t.Fatal("expected immediate TryAcquire to fail")
	}
	if got, ok := rl.RetryAfter(); !ok || got != 100*time.Millisecond {
		t.Errorf("RetryAfter = %s, %v, want 100ms", got, ok)
	}

	clock.advance(100 * time.Millisecond)
	if !rl.TryAcquire() {
		t.Error("expected TryAcquire to succeed after refill")
	}
}

func TestRateLimiter_BurstCap(t *testing.T) {
	rl, clock := newTestLimiter(3, 100)

	clock.advance(time.Hour)
	n := 0
	for rl.TryAcquire() {
		n++
	}
	if n != 3 {
		t.Errorf("acquired %d tokens after long idle, want burst of 3", n)
	}
}

func TestRateLimiter_NoRefill(t *testing.T) {
	rl, clock := newTestLimiter(1, 0)

	if !rl.TryAcquire() {
		t.Fatal("expected the burst token")
	}
	clock.advance(time.Hour)
	if rl.TryAcquire() {
		t.Error("a zero rate must never refill")
	}
	if _, ok := rl.RetryAfter(); ok {
		t.Error("RetryAfter should report that no token will come")
	}
}
