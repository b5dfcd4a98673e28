package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Operation is an opaque step invocation supplied by the agent runtime.
type Operation func(ctx context.Context) (any, error)

// Config tunes an Orchestrator. The same breaker and retry defaults apply
// to every operation name; per-call overrides come in as ExecOptions.
type Config struct {
	Breaker BreakerConfig
	Retry   Policy

	// MaxConcurrentCalls bounds in-flight calls per operation name.
	// 0 disables the bulkhead.
	MaxConcurrentCalls int

	// Timeout is the default per-attempt deadline. 0 disables it.
	Timeout time.Duration
}

// Outcome is the result of one Execute call.
type Outcome struct {
	Result       any
	Attempts     int
	UsedFallback bool
}

// Orchestrator composes retry, circuit breaking, bulkhead isolation,
// per-attempt deadlines and fallback into a single call wrapper. Breakers
// and bulkheads are created lazily per operation name and live for the
// orchestrator's lifetime; all registries are owned by the instance rather
// than package globals so independent orchestrators can coexist.
type Orchestrator struct {
	cfg     Config
	retry   *Manager
	metrics *Metrics

	mu        sync.Mutex
	breakers  map[string]*Breaker
	bulkheads map[string]*Bulkhead
}

// NewOrchestrator creates an orchestrator with its own metrics aggregator.
func NewOrchestrator(cfg Config) *Orchestrator {
	metrics := NewMetrics()
	return &Orchestrator{
		cfg:       cfg,
		retry:     NewManager(metrics),
		metrics:   metrics,
		breakers:  make(map[string]*Breaker),
		bulkheads: make(map[string]*Bulkhead),
	}
}

type execOptions struct {
	fallback Operation
	timeout  time.Duration
	policy   Policy
	hasTO    bool
	hasPol   bool
}

// ExecOption customizes a single Execute call.
type ExecOption func(*execOptions)

// WithFallback runs fb when the primary operation exhausts its resilience
// budget or is rejected by the bulkhead.
func WithFallback(fb Operation) ExecOption {
	return func(o *execOptions) { o.fallback = fb }
}

// WithTimeout overrides the per-attempt deadline for this call.
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) { o.timeout = d; o.hasTO = true }
}

// WithPolicy overrides the retry policy for this call.
func WithPolicy(p Policy) ExecOption {
	return func(o *execOptions) { o.policy = p; o.hasPol = true }
}

// Execute runs op under the full resilience stack, keyed by name:
//
//  1. If the bulkhead is enabled and no permit is free the call is not
//     queued — the fallback runs immediately, or ErrBulkheadFull returns.
//  2. While holding the permit the retry loop runs; each attempt goes
//     through the circuit breaker for name.
//  3. A positive timeout races each attempt against a deadline; a breach
//     counts as a retryable timeout failure. The attempt goroutine is not
//     forcibly stopped, only abandoned (its context is cancelled).
//  4. On exhausted retries or a non-retryable/circuit-open failure the
//     fallback runs if configured; otherwise the failure propagates.
//
// When a fallback is configured Execute only returns an error if the
// fallback itself fails, and that error aggregates both failures.
func (o *Orchestrator) Execute(ctx context.Context, name string, op Operation, opts ...ExecOption) (*Outcome, error) {
	var eo execOptions
	for _, opt := range opts {
		opt(&eo)
	}

	timeout := o.cfg.Timeout
	if eo.hasTO {
		timeout = eo.timeout
	}
	policy := o.cfg.Retry
	if eo.hasPol {
		policy = eo.policy
	}

	if o.cfg.MaxConcurrentCalls > 0 {
		bh := o.bulkhead(name)
		if !bh.TryAcquire() {
			o.metrics.recordExecution(1, ErrBulkheadFull)
			return o.runFallback(ctx, &Outcome{}, ErrBulkheadFull, eo.fallback)
		}
		defer bh.Release()
	}

	br := o.breaker(name)

	var (
		result      any
		circuitSeen bool
	)
	attempt := func(ctx context.Context) error {
		err := br.Execute(func() error {
			v, err := o.runAttempt(ctx, op, timeout)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
		if errors.Is(err, ErrCircuitOpen) && !circuitSeen {
			circuitSeen = true
			o.metrics.recordCircuitOpen()
		}
		return err
	}

	res, err := o.retry.Execute(ctx, attempt, policy)
	out := &Outcome{Attempts: res.Attempts}
	if err == nil {
		out.Result = result
		return out, nil
	}

	return o.runFallback(ctx, out, err, eo.fallback)
}

// runAttempt races one invocation of op against the deadline. The breach
// path abandons the in-flight goroutine; op is expected to honor its
// context but is not guaranteed to stop.
func (o *Orchestrator) runAttempt(ctx context.Context, op Operation, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return op(ctx)
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type attemptResult struct {
		value any
		err   error
	}
	done := make(chan attemptResult, 1)
	go func() {
		v, err := op(actx)
		done <- attemptResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		if errors.Is(r.err, context.DeadlineExceeded) {
			o.metrics.recordTimeout()
			return nil, ErrTimeout
		}
		return r.value, r.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.metrics.recordTimeout()
		return nil, ErrTimeout
	}
}

// runFallback finishes a failed call through the fallback path.
func (o *Orchestrator) runFallback(ctx context.Context, out *Outcome, primary error, fb Operation) (*Outcome, error) {
	if fb == nil {
		return nil, primary
	}

	o.metrics.recordFallback()
	v, err := fb(ctx)
	if err != nil {
		return nil, &fallbackError{primary: primary, fallback: err}
	}

	out.Result = v
	out.UsedFallback = true
	return out, nil
}

// CircuitState reports the breaker state for name. Operations that have
// never been called report closed.
func (o *Orchestrator) CircuitState(name string) State {
	o.mu.Lock()
	br, ok := o.breakers[name]
	o.mu.Unlock()
	if !ok {
		return StateClosed
	}
	return br.State()
}

// CircuitSnapshot returns breaker counters for name, and whether a breaker
// exists for it.
func (o *Orchestrator) CircuitSnapshot(name string) (BreakerSnapshot, bool) {
	o.mu.Lock()
	br, ok := o.breakers[name]
	o.mu.Unlock()
	if !ok {
		return BreakerSnapshot{}, false
	}
	return br.Snapshot(), true
}

// ResetCircuit forces the breaker for name back to closed.
func (o *Orchestrator) ResetCircuit(name string) {
	o.mu.Lock()
	br, ok := o.breakers[name]
	o.mu.Unlock()
	if ok {
		br.Reset()
	}
}

// MetricsSnapshot returns a copy of the aggregated counters.
func (o *Orchestrator) MetricsSnapshot() MetricsSnapshot {
	return o.metrics.Snapshot()
}

// ResetMetrics zeroes the aggregated counters.
func (o *Orchestrator) ResetMetrics() {
	o.metrics.Reset()
}

func (o *Orchestrator) breaker(name string) *Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()

	br, ok := o.breakers[name]
	if !ok {
		br = NewBreaker(o.cfg.Breaker)
		o.breakers[name] = br
	}
	return br
}

func (o *Orchestrator) bulkhead(name string) *Bulkhead {
	o.mu.Lock()
	defer o.mu.Unlock()

	bh, ok := o.bulkheads[name]
	if !ok {
		bh = NewBulkhead(o.cfg.MaxConcurrentCalls)
		o.bulkheads[name] = bh
	}
	return bh
}
