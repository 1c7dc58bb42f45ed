package resilience

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("rate limited")

// LimiterOpts configures the token bucket rate limiter.
type LimiterOpts struct {
	// Rate is the number of tokens added per second.
	Rate float64
	// Burst is the maximum number of tokens (bucket capacity).
	Burst float64
}

// Limiter implements a weighted token bucket. Callers take any number of
// tokens at once, give back what they did not use, and book overruns as debt
// that is repaid from future refill, so the token count never goes negative.
type Limiter struct {
	mu     sync.Mutex
	opts   LimiterOpts
	tokens float64
	debt   float64
	paused time.Time
	last   time.Time
	now    func() time.Time
}

// NewLimiter creates a full token bucket.
func NewLimiter(opts LimiterOpts) *Limiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Rate <= 0 {
		opts.Rate = opts.Burst
	}
	return &Limiter{
		opts:   opts,
		tokens: opts.Burst,
		now:    time.Now,
	}
}

// Capacity is the bucket size.
func (l *Limiter) Capacity() float64 { return l.opts.Burst }

// Rate is the refill rate in tokens per second.
func (l *Limiter) Rate() float64 { return l.opts.Rate }

// Tokens returns the currently available tokens.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Debt returns the outstanding overrun still to be repaid.
func (l *Limiter) Debt() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.debt
}

// Allow takes one token if available (non-blocking).
func (l *Limiter) Allow() bool { return l.AllowN(1) }

// AllowN takes n tokens if available (non-blocking).
func (l *Limiter) AllowN(n float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	n = l.clamp(n)
	if l.tokens >= n && !l.now().Before(l.paused) {
		l.tokens -= n
		return true
	}
	return false
}

// Delay returns how long until n tokens will be available, zero if they
// already are.
func (l *Limiter) Delay(n float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.delay(l.clamp(n))
}

// delay must hold mu.
func (l *Limiter) delay(n float64) time.Duration {
	var pause time.Duration
	if now := l.now(); now.Before(l.paused) {
		pause = l.paused.Sub(now)
	}
	if l.tokens >= n {
		return pause
	}
	deficit := n - l.tokens + l.debt
	d := time.Duration(math.Ceil(deficit / l.opts.Rate * float64(time.Second)))
	if d < pause {
		return pause
	}
	return d
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error { return l.WaitN(ctx, 1) }

// WaitN blocks until n tokens are available or ctx is cancelled.
func (l *Limiter) WaitN(ctx context.Context, n float64) error {
	for {
		l.mu.Lock()
		l.refill()
		n = l.clamp(n)
		waitDur := l.delay(n)
		if waitDur == 0 {
			l.tokens -= n
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		if waitDur < time.Millisecond {
			waitDur = time.Millisecond
		}

		t := time.NewTimer(waitDur)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Refund returns unused tokens, capped at the bucket capacity.
func (l *Limiter) Refund(n float64) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.deposit(n)
}

// Charge takes n extra tokens. Whatever the bucket cannot cover is booked as
// debt.
func (l *Limiter) Charge(n float64) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if n <= l.tokens {
		l.tokens -= n
		return
	}
	l.debt += n - l.tokens
	l.tokens = 0
}

// Pause empties the bucket and blocks takes until d has elapsed.
func (l *Limiter) Pause(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	l.tokens = 0
	if until := l.now().Add(d); until.After(l.paused) {
		l.paused = until
	}
}

// clamp bounds a request to the capacity so oversized requests still complete.
func (l *Limiter) clamp(n float64) float64 {
	if n > l.opts.Burst {
		return l.opts.Burst
	}
	if n < 0 {
		return 0
	}
	return n
}

// deposit adds tokens, repaying debt first. Must hold mu.
func (l *Limiter) deposit(n float64) {
	if l.debt > 0 {
		pay := math.Min(n, l.debt)
		l.debt -= pay
		n -= pay
	}
	l.tokens = math.Min(l.tokens+n, l.opts.Burst)
}

// refill adds tokens based on elapsed time. Must hold mu.
func (l *Limiter) refill() {
	now := l.now()
	if l.last.IsZero() {
		l.last = now
		return
	}
	elapsed := now.Sub(l.last).Seconds()
	l.last = now
	if elapsed <= 0 {
		return
	}
	l.deposit(elapsed * l.opts.Rate)
}

// Call executes f if a token is available, otherwise returns ErrRateLimited.
func (l *Limiter) Call(ctx context.Context, f func(context.Context) error) error {
	if !l.Allow() {
		return ErrRateLimited
	}
	return f(ctx)
}

// CallWait waits for a token then executes f.
func (l *Limiter) CallWait(ctx context.Context, f func(context.Context) error) error {
	if err := l.Wait(ctx); err != nil {
		return err
	}
	return f(ctx)
}
