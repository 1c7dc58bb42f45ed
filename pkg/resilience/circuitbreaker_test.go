package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var (
	errUnavailable = errors.New("service unavailable")
	errSyntax      = errors.New("statement has a syntax error")
)

// step is one call through the breaker, made after advancing the clock.
type step struct {
	advance   time.Duration
	err       error
	wantErr   error
	wantState State
}

func TestBreakerTransitions(t *testing.T) {
	opts := BreakerOpts{FailThreshold: 2, Timeout: 5 * time.Second, HalfOpenMax: 1}
	tests := []struct {
		name  string
		steps []step
	}{
		{"trips after threshold", []step{
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateClosed},
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateOpen},
			{wantErr: ErrCircuitOpen, wantState: StateOpen},
		}},
		{"success resets the count", []step{
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateClosed},
			{wantState: StateClosed},
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateClosed},
		}},
		{"probe success closes", []step{
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateClosed},
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateOpen},
			{advance: 6 * time.Second, wantState: StateClosed},
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateClosed},
		}},
		{"probe failure reopens", []step{
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateClosed},
			{err: errUnavailable, wantErr: errUnavailable, wantState: StateOpen},
			{advance: 6 * time.Second, err: errUnavailable, wantErr: errUnavailable, wantState: StateOpen},
			{advance: time.Second, wantErr: ErrCircuitOpen, wantState: StateOpen},
		}},
		{"cancellation never trips", []step{
			{err: context.Canceled, wantErr: context.Canceled, wantState: StateClosed},
			{err: context.Canceled, wantErr: context.Canceled, wantState: StateClosed},
			{err: context.Canceled, wantErr: context.Canceled, wantState: StateClosed},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Unix(0, 0)
			b := NewBreaker(opts)
			b.now = func() time.Time { return now }
			for i, s := range tt.steps {
				now = now.Add(s.advance)
				err := b.Call(context.Background(), func(context.Context) error { return s.err })
				if !errors.Is(err, s.wantErr) || (s.wantErr == nil && err != nil) {
					t.Fatalf("step %d: err = %v, want %v", i, err, s.wantErr)
				}
				if got := b.State(); got != s.wantState {
					t.Fatalf("step %d: state = %v, want %v", i, got, s.wantState)
				}
			}
		})
	}
}

func TestBreakerHalfOpenAdmitsOneProbe(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Second, HalfOpenMax: 1})
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Call(ctx, func(context.Context) error { return errUnavailable })
	now = now.Add(2 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}

	err := b.Call(ctx, func(ctx context.Context) error {
		if inner := b.Call(ctx, func(context.Context) error { return nil }); !errors.Is(inner, ErrCircuitOpen) {
			t.Errorf("second probe: expected ErrCircuitOpen, got %v", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreakerShouldTrip(t *testing.T) {
	b := NewBreaker(BreakerOpts{
		FailThreshold: 2,
		Timeout:       time.Second,
		ShouldTrip:    func(err error) bool { return errors.Is(err, errUnavailable) },
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := b.Call(ctx, func(context.Context) error { return errSyntax }); !errors.Is(err, errSyntax) {
			t.Fatalf("expected caller to see the error, got %v", err)
		}
	}
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Fatalf("statement errors must not count: state %v, failures %d", b.State(), b.Failures())
	}

	_ = b.Call(ctx, func(context.Context) error { return errUnavailable })
	if b.Failures() != 1 {
		t.Fatalf("expected 1 failure, got %d", b.Failures())
	}
}

func TestDefaultsApplied(t *testing.T) {
	b := NewBreaker(BreakerOpts{})
	if b.opts.FailThreshold != DefaultBreakerOpts.FailThreshold || b.opts.Timeout != DefaultBreakerOpts.Timeout || b.opts.HalfOpenMax != 1 {
		t.Fatalf("defaults not applied: %+v", b.opts)
	}
	if StateHalfOpen.String() != "half-open" || State(9).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
