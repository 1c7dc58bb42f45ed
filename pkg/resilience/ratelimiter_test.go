package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fakeClock(l *Limiter) *time.Time {
	now := time.Now()
	l.now = func() time.Time { return now }
	return &now
}

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 3})
	fakeClock(l)
	// Should allow burst
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow on call %d", i)
		}
	}
	// 4th should be rejected
	if l.Allow() {
		t.Fatal("expected rejection after burst exhausted")
	}
}

func TestLimiterRefill(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 5})
	now := fakeClock(l)

	// Drain all tokens
	if !l.AllowN(5) {
		t.Fatal("expected full bucket")
	}
	if l.Allow() {
		t.Fatal("should be empty")
	}

	// Advance 500ms → 5 tokens refilled
	*now = now.Add(500 * time.Millisecond)
	if got := l.Tokens(); got != 5 {
		t.Fatalf("expected 5 tokens, got %v", got)
	}
	if !l.AllowN(5) {
		t.Fatal("expected allow after refill")
	}
}

func TestLimiterRefundCapped(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 10})
	fakeClock(l)

	l.AllowN(8)
	l.Refund(3)
	if got := l.Tokens(); got != 5 {
		t.Fatalf("expected 5 tokens, got %v", got)
	}
	l.Refund(100)
	if got := l.Tokens(); got != 10 {
		t.Fatalf("refund must not exceed capacity, got %v", got)
	}
}

func TestLimiterChargeBooksDebt(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 10})
	now := fakeClock(l)

	l.AllowN(8)
	l.Charge(5) // 2 available, 3 owed
	if got := l.Tokens(); got != 0 {
		t.Fatalf("tokens must not go negative, got %v", got)
	}
	if got := l.Debt(); got != 3 {
		t.Fatalf("expected debt 3, got %v", got)
	}

	// 500ms refills 5: 3 repay the debt, 2 become available.
	*now = now.Add(500 * time.Millisecond)
	if got := l.Debt(); got != 0 {
		t.Fatalf("expected debt repaid, got %v", got)
	}
	if got := l.Tokens(); got != 2 {
		t.Fatalf("expected 2 tokens, got %v", got)
	}
}

func TestLimiterDelay(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 10, Burst: 10})
	fakeClock(l)

	if d := l.Delay(5); d != 0 {
		t.Fatalf("expected no delay, got %v", d)
	}
	l.AllowN(10)
	if d := l.Delay(5); d != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %v", d)
	}
	// Requests above capacity are clamped.
	if d := l.Delay(50); d != time.Second {
		t.Fatalf("expected 1s for a clamped request, got %v", d)
	}
}

func TestLimiterPause(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 100, Burst: 10})
	now := fakeClock(l)

	l.Pause(2 * time.Second)
	if l.Allow() {
		t.Fatal("paused limiter must reject")
	}
	*now = now.Add(time.Second)
	if l.Allow() {
		t.Fatal("still paused")
	}
	*now = now.Add(1500 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("expected allow after pause")
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 1})
	fakeClock(l)
	ctx := context.Background()

	err := l.Call(ctx, func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = l.Call(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestLimiterWaitN(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1000, Burst: 10})
	l.AllowN(10)

	start := time.Now()
	if err := l.WaitN(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("WaitN took too long")
	}
}
