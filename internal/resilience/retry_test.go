package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

// instantSleep skips backoff delays while recording them on the Result.
func newTestManager(metrics *Metrics) *Manager {
	m := NewManager(metrics)
	m.sleep = func(context.Context, time.Duration) error { return nil }
	return m
}

func TestExponentialDelayGrowth(t *testing.T) {
	p := Policy{
		Backoff:      BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
	}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 10 * time.Second}, // capped at MaxDelay
	}
	for _, tc := range cases {
		if got := p.Delay(tc.attempt); got != tc.want {
			t.Errorf("Delay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestLinearAndFixedDelayGrowth(t *testing.T) {
	linear := Policy{Backoff: BackoffLinear, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	if got := linear.Delay(2); got != 150*time.Millisecond {
		t.Errorf("linear Delay(2) = %v, want 150ms", got)
	}

	fixed := Policy{Backoff: BackoffFixed, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	for i := 0; i < 5; i++ {
		if got := fixed.Delay(i); got != 50*time.Millisecond {
			t.Errorf("fixed Delay(%d) = %v, want 50ms", i, got)
		}
	}
}

func TestJitterStaysWithinBound(t *testing.T) {
	p := Policy{
		Backoff:      BackoffExponential,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.5,
	}

	base := 400 * time.Millisecond
	lo := time.Duration(float64(base) * 0.5)
	hi := time.Duration(float64(base) * 1.5)
	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	metrics := NewMetrics()
	m := newTestManager(metrics)

	calls := 0
	op := func(context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errTest)
		}
		return nil
	}

	res, err := m.Execute(context.Background(), op, Policy{
		MaxAttempts:  5,
		Backoff:      BackoffFixed,
		InitialDelay: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	if res.TotalDelay != 200*time.Millisecond {
		t.Errorf("total delay = %v, want 200ms", res.TotalDelay)
	}

	snap := metrics.Snapshot()
	if snap.RetriedCalls != 1 {
		t.Errorf("retried_calls = %d, want 1", snap.RetriedCalls)
	}
	if snap.SucceededCalls != 1 {
		t.Errorf("succeeded_calls = %d, want 1", snap.SucceededCalls)
	}
}

func TestNonRetryableAbortsImmediately(t *testing.T) {
	metrics := NewMetrics()
	m := newTestManager(metrics)

	calls := 0
	permErr := Permission(errors.New("caller not allowed"))
	op := func(context.Context) error {
		calls++
		return permErr
	}

	res, err := m.Execute(context.Background(), op, Policy{MaxAttempts: 5})
	if !errors.Is(err, permErr) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("operation called %d times, want 1", calls)
	}
	if res.TotalDelay != 0 {
		t.Errorf("non-retryable failure must not delay, got %v", res.TotalDelay)
	}

	snap := metrics.Snapshot()
	if snap.FailedCalls != 1 {
		t.Errorf("failed_calls = %d, want 1", snap.FailedCalls)
	}
	if snap.ErrorClasses["permission"] != 1 {
		t.Errorf("error class histogram = %v, want permission=1", snap.ErrorClasses)
	}
}

func TestExhaustedRetriesReturnLastError(t *testing.T) {
	metrics := NewMetrics()
	m := newTestManager(metrics)

	calls := 0
	op := func(context.Context) error {
		calls++
		return Transient(errTest)
	}

	res, err := m.Execute(context.Background(), op, Policy{MaxAttempts: 3, Backoff: BackoffFixed})
	if !errors.Is(err, errTest) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("operation called %d times, want 3", calls)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	metrics := NewMetrics()
	m := NewManager(metrics)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := func(context.Context) error {
		calls++
		cancel()
		return Transient(errTest)
	}

	_, err := m.Execute(ctx, op, Policy{
		MaxAttempts:  10,
		Backoff:      BackoffFixed,
		InitialDelay: 10 * time.Millisecond,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Errorf("operation called %d times after cancel, want 1", calls)
	}
}

func TestMetricsDelayStats(t *testing.T) {
	metrics := NewMetrics()
	m := newTestManager(metrics)

	op := func(context.Context) error { return Transient(errTest) }
	_, _ = m.Execute(context.Background(), op, Policy{
		MaxAttempts:  3,
		Backoff:      BackoffLinear,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
	})

	snap := metrics.Snapshot()
	// Delays: 100ms, 200ms.
	if snap.TotalDelay != 300*time.Millisecond {
		t.Errorf("total delay = %v, want 300ms", snap.TotalDelay)
	}
	if snap.MaxDelay != 200*time.Millisecond {
		t.Errorf("max delay = %v, want 200ms", snap.MaxDelay)
	}
	if snap.AvgDelay != 150*time.Millisecond {
		t.Errorf("avg delay = %v, want 150ms", snap.AvgDelay)
	}
}
