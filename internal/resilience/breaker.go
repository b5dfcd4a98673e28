// Package resilience provides reliability patterns for step execution:
// retry with backoff, circuit breaking, bulkhead isolation, deadlines,
// and fallback, composed by the Orchestrator.
package resilience

import (
	"sync"
	"time"
)

// State is the observable circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig tunes a single circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again. Default: 2.
	SuccessThreshold int

	// RecoveryTimeout is how long the circuit stays open before a probe
	// call is allowed. Default: 30s.
	RecoveryTimeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	return c
}

// Breaker is a three-state circuit breaker scoped to one operation name.
// It trips open after FailureThreshold consecutive failures, rejects calls
// until RecoveryTimeout elapses, then half-opens and closes again after
// SuccessThreshold consecutive successes. A single half-open failure
// reopens the circuit with a fresh opened-at timestamp.
type Breaker struct {
	mu          sync.Mutex
	cfg         BreakerConfig
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	lastFailure time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		state: StateClosed,
		now:   time.Now,
	}
}

// Execute runs fn unless the circuit is open and the recovery timeout has
// not elapsed, in which case fn is never invoked and ErrCircuitOpen is
// returned. fn runs outside the breaker lock so slow operations do not
// block state queries or other callers.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

// State reports the current state. An open circuit whose recovery timeout
// has elapsed is reported as half-open; the transition itself happens on
// the next Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Snapshot returns the breaker's counters for admin endpoints.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.state
	if state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
		state = StateHalfOpen
	}
	return BreakerSnapshot{
		State:       state,
		Failures:    b.failures,
		Successes:   b.successes,
		OpenedAt:    b.openedAt,
		LastFailure: b.lastFailure,
	}
}

// Reset forces the breaker back to closed with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.successes = 0
	b.openedAt = time.Time{}
	b.lastFailure = time.Time{}
}

// BreakerSnapshot is a point-in-time view of one breaker.
type BreakerSnapshot struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	OpenedAt    time.Time `json:"opened_at,omitzero"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.RecoveryTimeout {
			b.state = StateHalfOpen
			b.successes = 0
			return true
		}
		return false
	case StateHalfOpen:
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailure = b.now()
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.now()
		b.successes = 0
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
		}
	default:
		b.failures = 0
	}
}
