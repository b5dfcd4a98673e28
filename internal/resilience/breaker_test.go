package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("service unavailable")

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Second})
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
}

func TestOpensAfterFailureThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, RecoveryTimeout: time.Second})

	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return errTest })
	}

	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", got)
	}

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Fatal("open circuit must not invoke the operation")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Second})

	_ = b.Execute(func() error { return errTest })
	_ = b.Execute(func() error { return nil })
	_ = b.Execute(func() error { return errTest })

	// One failure after the reset: still closed.
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
}

func TestNoInvokeBeforeRecoveryTimeout(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: 10 * time.Second})
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errTest })

	// Just before the timeout elapses the operation must never run.
	now = now.Add(10*time.Second - time.Millisecond)
	err := b.Execute(func() error {
		t.Fatal("operation invoked while circuit open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, RecoveryTimeout: time.Second})
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errTest })
	now = now.Add(2 * time.Second)

	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half_open after recovery timeout, got %s", got)
	}

	// First half-open success: still half-open.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("expected half_open after 1 success, got %s", got)
	}

	// Second success closes and resets both counters.
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := b.Snapshot()
	if snap.State != StateClosed {
		t.Fatalf("expected closed, got %s", snap.State)
	}
	if snap.Failures != 0 || snap.Successes != 0 {
		t.Fatalf("expected counters reset, got failures=%d successes=%d", snap.Failures, snap.Successes)
	}
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 3, RecoveryTimeout: time.Second})
	b.now = func() time.Time { return now }

	_ = b.Execute(func() error { return errTest })
	firstOpen := b.Snapshot().OpenedAt

	now = now.Add(2 * time.Second)

	// Probe fails: reopen with a fresh openedAt.
	if err := b.Execute(func() error { return errTest }); !errors.Is(err, errTest) {
		t.Fatalf("expected probe error, got %v", err)
	}

	snap := b.Snapshot()
	if snap.State != StateOpen {
		t.Fatalf("expected open after half-open failure, got %s", snap.State)
	}
	if !snap.OpenedAt.After(firstOpen) {
		t.Fatal("expected openedAt to be refreshed on reopen")
	}

	// The fresh window rejects again.
	err := b.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestResetClosesCircuit(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	_ = b.Execute(func() error { return errTest })
	if got := b.State(); got != StateOpen {
		t.Fatalf("expected open, got %s", got)
	}

	b.Reset()
	if got := b.State(); got != StateClosed {
		t.Fatalf("expected closed after reset, got %s", got)
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}
