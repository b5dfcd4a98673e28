package resilience

import (
	"context"
	"math/rand"
	"time"
)

// Backoff selects how delays grow between retry attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// Policy configures the retry loop for one operation. A Policy is immutable
// once constructed; share freely across goroutines.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff selects the delay growth curve. Default: exponential.
	Backoff Backoff

	// InitialDelay seeds the backoff curve. Default: 100ms.
	InitialDelay time.Duration

	// MaxDelay caps each computed delay. Default: 30s.
	MaxDelay time.Duration

	// JitterFactor perturbs each delay by up to ±JitterFactor·delay.
	// Must be in [0, 1]; 0 disables jitter.
	JitterFactor float64

	// RetryIf decides whether a failure consumes retry budget.
	// Default: Retryable.
	RetryIf func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	if p.JitterFactor > 1 {
		p.JitterFactor = 1
	}
	if p.RetryIf == nil {
		p.RetryIf = Retryable
	}
	return p
}

// Delay computes the backoff before attempt+1, where attempt counts
// completed attempts starting at 0: min(MaxDelay, InitialDelay·growth)
// with growth 2^attempt (exponential), attempt+1 (linear) or 1 (fixed),
// before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()

	var d time.Duration
	switch p.Backoff {
	case BackoffFixed:
		d = p.InitialDelay
	case BackoffLinear:
		d = p.InitialDelay * time.Duration(attempt+1)
	default:
		d = p.InitialDelay << uint(attempt)
		if d <= 0 || d/p.InitialDelay != 1<<uint(attempt) {
			d = p.MaxDelay // shift overflowed
		}
	}

	if d > p.MaxDelay {
		d = p.MaxDelay
	}

	if p.JitterFactor > 0 && d > 0 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		span := float64(d) * p.JitterFactor
		d += time.Duration(span * (2*rand.Float64() - 1))
		if d < 0 {
			d = 0
		}
	}

	return d
}

// Result reports the outcome of one retry loop. Produced once per
// execution and never mutated after return.
type Result struct {
	Attempts   int
	TotalDelay time.Duration
	LastErr    error
}

// Manager runs operations under a retry policy and records every
// execution into the shared metrics aggregator.
type Manager struct {
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewManager creates a retry manager recording into metrics.
func NewManager(metrics *Metrics) *Manager {
	return &Manager{
		metrics: metrics,
		sleep:   sleepCtx,
	}
}

// Execute runs op until it succeeds, a non-retryable failure occurs, the
// policy's attempt budget is exhausted, or ctx is cancelled. The returned
// Result is always non-nil; on failure the error is the last one raised.
func (m *Manager) Execute(ctx context.Context, op func(ctx context.Context) error, policy Policy) (*Result, error) {
	policy = policy.withDefaults()
	res := &Result{}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		res.Attempts = attempt + 1

		err := op(ctx)
		if err == nil {
			m.metrics.recordExecution(res.Attempts, nil)
			return res, nil
		}
		lastErr = err

		if !policy.RetryIf(err) {
			break
		}
		if attempt+1 >= policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt)
		res.TotalDelay += delay
		m.metrics.recordDelay(delay)

		if err := m.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	res.LastErr = lastErr
	m.metrics.recordExecution(res.Attempts, lastErr)
	return res, lastErr
}

// sleepCtx suspends for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
