package resilience

import (
	"sync"
	"time"
)

// Metrics is the process-wide aggregator for resilience activity. It is
// owned by one Orchestrator instance so multiple orchestrators can be
// constructed and tested in isolation. Every Execute call mutates it;
// a single mutex serializes access.
type Metrics struct {
	mu sync.Mutex

	totalCalls     int64
	succeededCalls int64
	failedCalls    int64
	retriedCalls   int64
	fallbackCalls  int64
	circuitOpen    int64
	timeouts       int64

	totalDelay time.Duration
	maxDelay   time.Duration
	delayCount int64

	errorClasses map[string]int64
}

// NewMetrics creates an empty aggregator.
func NewMetrics() *Metrics {
	return &Metrics{errorClasses: make(map[string]int64)}
}

// recordExecution tallies one finished retry loop: how many attempts it
// took, whether it eventually succeeded, and the terminal error class on
// failure.
func (m *Metrics) recordExecution(attempts int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCalls++
	if err == nil {
		m.succeededCalls++
		if attempts > 1 {
			m.retriedCalls++
		}
		return
	}

	m.failedCalls++
	if attempts > 1 {
		m.retriedCalls++
	}
	m.errorClasses[Classify(err).String()]++
}

// recordDelay tallies one backoff delay observed between attempts.
func (m *Metrics) recordDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalDelay += d
	m.delayCount++
	if d > m.maxDelay {
		m.maxDelay = d
	}
}

func (m *Metrics) recordFallback() {
	m.mu.Lock()
	m.fallbackCalls++
	m.mu.Unlock()
}

func (m *Metrics) recordCircuitOpen() {
	m.mu.Lock()
	m.circuitOpen++
	m.mu.Unlock()
}

func (m *Metrics) recordTimeout() {
	m.mu.Lock()
	m.timeouts++
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	classes := make(map[string]int64, len(m.errorClasses))
	for k, v := range m.errorClasses {
		classes[k] = v
	}

	var avg time.Duration
	if m.delayCount > 0 {
		avg = m.totalDelay / time.Duration(m.delayCount)
	}

	return MetricsSnapshot{
		TotalCalls:     m.totalCalls,
		SucceededCalls: m.succeededCalls,
		FailedCalls:    m.failedCalls,
		RetriedCalls:   m.retriedCalls,
		FallbackCalls:  m.fallbackCalls,
		CircuitOpen:    m.circuitOpen,
		Timeouts:       m.timeouts,
		TotalDelay:     m.totalDelay,
		AvgDelay:       avg,
		MaxDelay:       m.maxDelay,
		ErrorClasses:   classes,
	}
}

// Reset zeroes all counters. Intended for tests and admin endpoints.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalCalls = 0
	m.succeededCalls = 0
	m.failedCalls = 0
	m.retriedCalls = 0
	m.fallbackCalls = 0
	m.circuitOpen = 0
	m.timeouts = 0
	m.totalDelay = 0
	m.maxDelay = 0
	m.delayCount = 0
	m.errorClasses = make(map[string]int64)
}

// MetricsSnapshot is a point-in-time copy of the aggregator.
type MetricsSnapshot struct {
	TotalCalls     int64            `json:"total_calls"`
	SucceededCalls int64            `json:"succeeded_calls"`
	FailedCalls    int64            `json:"failed_calls"`
	RetriedCalls   int64            `json:"retried_calls"`
	FallbackCalls  int64            `json:"fallback_calls"`
	CircuitOpen    int64            `json:"circuit_open"`
	Timeouts       int64            `json:"timeouts"`
	TotalDelay     time.Duration    `json:"total_delay_ns"`
	AvgDelay       time.Duration    `json:"avg_delay_ns"`
	MaxDelay       time.Duration    `json:"max_delay_ns"`
	ErrorClasses   map[string]int64 `json:"error_classes"`
}
