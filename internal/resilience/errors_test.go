package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyExplicitMarksWin(t *testing.T) {
	// A marked validation error mentioning "timeout" stays validation.
	err := Validation(errors.New("field timeout_seconds is invalid"))
	if got := Classify(err); got != ClassValidation {
		t.Errorf("Classify = %s, want validation", got)
	}

	// Marks survive fmt wrapping.
	wrapped := fmt.Errorf("step s1: %w", Permission(errors.New("nope")))
	if got := Classify(wrapped); got != ClassPermission {
		t.Errorf("Classify wrapped = %s, want permission", got)
	}
}

func TestClassifySentinels(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{ErrCircuitOpen, ClassCircuitOpen},
		{ErrBulkheadFull, ClassBulkheadFull},
		{ErrTimeout, ClassTimeout},
		{context.DeadlineExceeded, ClassTimeout},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestClassifyMessageHeuristics(t *testing.T) {
	cases := []struct {
		msg  string
		want Class
	}{
		{"request timed out after 5s", ClassTimeout},
		{"429 too many requests", ClassRateLimit},
		{"connection refused", ClassConnection},
		{"invalid input", ClassValidation},
		{"permission denied", ClassPermission},
		{"something exploded", ClassUnknown},
	}
	for _, tc := range cases {
		if got := Classify(errors.New(tc.msg)); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestRetryablePredicate(t *testing.T) {
	if Retryable(Validation(errTest)) {
		t.Error("validation errors must not be retryable")
	}
	if Retryable(Permission(errTest)) {
		t.Error("permission errors must not be retryable")
	}
	if Retryable(ErrCircuitOpen) {
		t.Error("circuit-open must abort the retry loop")
	}
	if Retryable(ErrBulkheadFull) {
		t.Error("bulkhead rejection must abort the retry loop")
	}
	if !Retryable(ErrTimeout) {
		t.Error("timeouts must be retryable")
	}
	if !Retryable(Transient(errTest)) {
		t.Error("connection errors must be retryable")
	}
	if !Retryable(errors.New("something exploded")) {
		t.Error("unknown errors default to retryable")
	}
}

func TestFallbackErrorAggregates(t *testing.T) {
	primary := Transient(errors.New("primary down"))
	fb := errors.New("fallback down")
	err := &fallbackError{primary: primary, fallback: fb}

	if !errors.Is(err, primary) {
		t.Error("fallbackError must unwrap to the primary failure")
	}
	msg := err.Error()
	if !strings.Contains(msg, "primary down") || !strings.Contains(msg, "fallback down") {
		t.Errorf("aggregate message missing parts: %q", msg)
	}
}
