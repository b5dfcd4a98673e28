package resilience

import "sync"

// Bulkhead bounds the number of in-flight calls for one operation name.
// Acquisition never queues: when all permits are taken the caller gets an
// immediate rejection, so a saturated operation cannot absorb waiters.
type Bulkhead struct {
	sem chan struct{}

	mu       sync.Mutex
	rejected int64
}

// NewBulkhead creates a bulkhead with maxConcurrent permits.
func NewBulkhead(maxConcurrent int) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrent)}
}

// TryAcquire takes a permit if one is free. It never blocks.
func (b *Bulkhead) TryAcquire() bool {
	select {
	case b.sem <- struct{}{}:
		return true
	default:
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		return false
	}
}

// Release returns a permit. Calling Release without a matching TryAcquire
// is a no-op.
func (b *Bulkhead) Release() {
	select {
	case <-b.sem:
	default:
	}
}

// InFlight returns the number of permits currently held.
func (b *Bulkhead) InFlight() int {
	return len(b.sem)
}

// Rejected returns the number of rejected acquisitions.
func (b *Bulkhead) Rejected() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}
