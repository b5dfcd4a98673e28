package resilience

import "testing"

func TestBulkheadRejectsWhenFull(t *testing.T) {
	b := NewBulkhead(2)

	if !b.TryAcquire() || !b.TryAcquire() {
		t.Fatal("expected first two acquisitions to succeed")
	}
	if b.TryAcquire() {
		t.Fatal("third acquisition must be rejected, not queued")
	}
	if b.InFlight() != 2 {
		t.Errorf("in-flight = %d, want 2", b.InFlight())
	}
	if b.Rejected() != 1 {
		t.Errorf("rejected = %d, want 1", b.Rejected())
	}

	b.Release()
	if !b.TryAcquire() {
		t.Fatal("expected acquisition to succeed after release")
	}
}

func TestBulkheadReleaseWithoutAcquireIsNoop(t *testing.T) {
	b := NewBulkhead(1)
	b.Release()
	if b.InFlight() != 0 {
		t.Errorf("in-flight = %d, want 0", b.InFlight())
	}
	if !b.TryAcquire() {
		t.Fatal("expected acquisition to succeed")
	}
}
