package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for resilience outcomes.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a call
	// without invoking the operation.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrBulkheadFull is returned when no bulkhead permit is available.
	// Callers are never queued; a full bulkhead is an immediate outcome.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an attempt exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")
)

// Class categorizes an operation failure. It drives both the retryable
// decision and the error histogram in Metrics.
type Class int

const (
	ClassUnknown Class = iota
	ClassTimeout
	ClassRateLimit
	ClassConnection
	ClassValidation
	ClassPermission
	ClassCircuitOpen
	ClassBulkheadFull
)

// String returns the histogram bucket name for the class.
func (c Class) String() string {
	switch c {
	case ClassTimeout:
		return "timeout"
	case ClassRateLimit:
		return "rate_limit"
	case ClassConnection:
		return "connection"
	case ClassValidation:
		return "validation"
	case ClassPermission:
		return "permission"
	case ClassCircuitOpen:
		return "circuit_open"
	case ClassBulkheadFull:
		return "bulkhead_full"
	}
	return "unknown"
}

// classedError carries an explicit Class through error wrapping.
type classedError struct {
	class Class
	err   error
}

func (e *classedError) Error() string { return e.err.Error() }
func (e *classedError) Unwrap() error { return e.err }

// MarkClass wraps err with an explicit failure class. Step operations use
// this to tell the retry loop how to treat their failures.
func MarkClass(err error, class Class) error {
	if err == nil {
		return nil
	}
	return &classedError{class: class, err: err}
}

// Validation wraps err as a non-retryable validation failure.
func Validation(err error) error { return MarkClass(err, ClassValidation) }

// Permission wraps err as a non-retryable permission failure.
func Permission(err error) error { return MarkClass(err, ClassPermission) }

// Transient wraps err as a retryable connection-level failure.
func Transient(err error) error { return MarkClass(err, ClassConnection) }

// Classify determines the failure class of err. Explicit marks win; known
// sentinels and context errors are recognized next; message heuristics are
// the fallback for errors from opaque step operations.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var ce *classedError
	if errors.As(err, &ce) {
		return ce.class
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return ClassCircuitOpen
	case errors.Is(err, ErrBulkheadFull):
		return ClassBulkheadFull
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline"):
		return ClassTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return ClassRateLimit
	case strings.Contains(msg, "connection") || strings.Contains(msg, "connect") || strings.Contains(msg, "unavailable") || strings.Contains(msg, "refused"):
		return ClassConnection
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation") || strings.Contains(msg, "malformed"):
		return ClassValidation
	case strings.Contains(msg, "permission") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return ClassPermission
	}
	return ClassUnknown
}

// Retryable is the default retry predicate: transient classes retry,
// validation/permission fail on the first attempt, and synthetic breaker or
// bulkhead rejections are never retried by the inner loop. Cancellation is
// cooperative shutdown, never a retry.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch Classify(err) {
	case ClassTimeout, ClassRateLimit, ClassConnection, ClassUnknown:
		return true
	}
	return false
}

// fallbackError aggregates the primary failure with a failed fallback.
type fallbackError struct {
	primary  error
	fallback error
}

func (e *fallbackError) Error() string {
	return fmt.Sprintf("operation failed: %v (fallback also failed: %v)", e.primary, e.fallback)
}

func (e *fallbackError) Unwrap() error { return e.primary }
