package fn

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

func TestResult(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() || r.IsErr() {
		t.Fatal("expected ok")
	}
	if v := r.Must(); v != 42 {
		t.Fatalf("got %d", v)
	}

	e := Errf[int]("boom %d", 1)
	if e.IsOk() {
		t.Fatal("expected err")
	}
	if v := e.UnwrapOr(7); v != 7 {
		t.Fatalf("got %d", v)
	}
	if _, err := e.Unwrap(); err == nil || err.Error() != "boom 1" {
		t.Fatalf("unexpected err %v", err)
	}

	p := ErrWith([]int{1, 2}, errors.New("partial"))
	v, err := p.Unwrap()
	if err == nil || len(v) != 2 {
		t.Fatalf("partial value lost: %v %v", v, err)
	}
}

func TestMustPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	Err[int](errors.New("x")).Must()
}

func TestFromPair(t *testing.T) {
	if !FromPair(1, nil).IsOk() {
		t.Fatal("expected ok")
	}
	if FromPair(1, errors.New("x")).IsOk() {
		t.Fatal("expected err")
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retries []int
	opts := RetryOpts{
		MaxAttempts: 4,
		InitialWait: time.Millisecond,
		MaxWait:     2 * time.Millisecond,
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retries = append(retries, attempt) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("done")
	})
	if r.Must() != "done" {
		t.Fatal("expected done")
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Fatalf("retries = %v", retries)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	opts := RetryOpts{
		MaxAttempts: 5,
		InitialWait: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
	}
	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		calls++
		return Err[int](fatal)
	})
	if _, err := r.Unwrap(); !errors.Is(err, fatal) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetryHonoursHint(t *testing.T) {
	var waits []time.Duration
	opts := RetryOpts{
		MaxAttempts: 2,
		InitialWait: time.Millisecond,
		MaxWait:     time.Millisecond,
		Hint:        func(error) time.Duration { return 15 * time.Millisecond },
		OnRetry:     func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) },
	}
	start := time.Now()
	Retry(context.Background(), opts, func(context.Context) Result[int] {
		return Err[int](errors.New("throttled"))
	})
	if len(waits) != 1 || waits[0] != 15*time.Millisecond {
		t.Fatalf("waits = %v", waits)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("hint not honoured")
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := RetryOpts{MaxAttempts: 10, InitialWait: time.Hour}
	calls := 0
	r := Retry(ctx, opts, func(context.Context) Result[int] {
		calls++
		cancel()
		return Err[int](errors.New("x"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestBackoff(t *testing.T) {
	o := RetryOpts{InitialWait: 100 * time.Millisecond, MaxWait: time.Second}
	want := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, w := range want {
		if got := o.Backoff(i); got != w*time.Millisecond {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, w*time.Millisecond)
		}
	}
}

func TestTracedStage(t *testing.T) {
	stage := TracedStage("upper", func(s string) []attribute.KeyValue {
		return []attribute.KeyValue{attribute.Int("len", len(s))}
	}, func(_ context.Context, s string) Result[string] {
		if s == "" {
			return Err[string](errors.New("empty"))
		}
		return Ok(strings.ToUpper(s))
	})
	if stage(context.Background(), "abc").Must() != "ABC" {
		t.Fatal("unexpected output")
	}
	if stage(context.Background(), "").IsOk() {
		t.Fatal("expected error")
	}
}

func TestRetryStage(t *testing.T) {
	calls := 0
	stage := RetryStage(RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond}, func(_ context.Context, n int) Result[int] {
		calls++
		if calls < 2 {
			return Err[int](errors.New("again"))
		}
		return Ok(n * 2)
	})
	if stage(context.Background(), 21).Must() != 42 {
		t.Fatal("unexpected output")
	}
}

func TestSliceHelpers(t *testing.T) {
	xs := []int{1, 2, 3, 4, 5}
	if got := Map(xs, func(x int) int { return x * x }); got[4] != 25 {
		t.Fatalf("Map = %v", got)
	}
	if got := Sum(xs, func(x int) float64 { return float64(x) / 2 }); got != 7.5 {
		t.Fatalf("Sum = %v", got)
	}
}
