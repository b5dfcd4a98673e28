package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/config"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/approval"
)

// mockBroadcaster records broadcast events for assertions.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastedEvent
}

type broadcastedEvent struct {
	EventType string
	Payload   any
}

func (m *mockBroadcaster) BroadcastEvent(_ context.Context, eventType string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, broadcastedEvent{EventType: eventType, Payload: payload})
}

func (m *mockBroadcaster) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

func newTestApprovals() (*ApprovalService, *mockBroadcaster) {
	bc := &mockBroadcaster{}
	svc := NewApprovalService(config.Approval{
		DefaultTimeout: time.Hour,
		SweepInterval:  time.Minute,
	}, bc, nil, nil)
	return svc, bc
}

func createRequest(t *testing.T, svc *ApprovalService, cfg *approval.Config) approval.Request {
	t.Helper()

	req, err := svc.Create(context.Background(), CreateRequest{
		WorkflowID:  "wf-1",
		ExecutionID: "exec-1",
		StepID:      "deploy",
		StepName:    "Deploy",
		Config:      cfg,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return req
}

func TestApprovals_ApproveRecordsDecision(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, nil)

	got, err := svc.Approve(context.Background(), req.ID, "alice", "looks good")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got.Status != approval.StatusApproved {
		t.Errorf("status = %q, want %q", got.Status, approval.StatusApproved)
	}
	if got.DecidedBy != "alice" {
		t.Errorf("decided_by = %q, want alice", got.DecidedBy)
	}
	if got.DecidedAt == nil {
		t.Error("decided_at not set")
	}
}

func TestApprovals_SecondDecisionLoses(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, nil)

	if _, err := svc.Approve(context.Background(), req.ID, "alice", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	_, err := svc.Reject(context.Background(), req.ID, "bob", "no")
	if !errors.Is(err, approval.ErrAlreadyDecided) {
		t.Fatalf("Reject after Approve: got %v, want ErrAlreadyDecided", err)
	}

	// The winning decision is never altered.
	got, err := svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approval.StatusApproved || got.DecidedBy != "alice" {
		t.Errorf("decision altered: status=%q decided_by=%q", got.Status, got.DecidedBy)
	}
}

func TestApprovals_ConcurrentDecidersOneWinner(t *testing.T) {
	t.Parallel()

	const deciders = 16

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, nil)

	type outcome struct {
		won  approval.Request
		err  error
		who  string
		kind approval.Status
	}
	results := make(chan outcome, deciders)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < deciders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := fmt.Sprintf("user-%d", i)
			<-start
			var got approval.Request
			var err error
			kind := approval.StatusApproved
			if i%2 == 0 {
				got, err = svc.Approve(context.Background(), req.ID, who, "")
			} else {
				kind = approval.StatusRejected
				got, err = svc.Reject(context.Background(), req.ID, who, "no")
			}
			results <- outcome{won: got, err: err, who: who, kind: kind}
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	var winner *outcome
	losers := 0
	for res := range results {
		res := res
		switch {
		case res.err == nil:
			if winner != nil {
				t.Fatalf("two winners: %s and %s", winner.who, res.who)
			}
			winner = &res
		case errors.Is(res.err, approval.ErrAlreadyDecided):
			losers++
		default:
			t.Fatalf("decider %s: unexpected error %v", res.who, res.err)
		}
	}
	if winner == nil {
		t.Fatal("no decider won")
	}
	if losers != deciders-1 {
		t.Fatalf("losers = %d, want %d", losers, deciders-1)
	}

	// The stored request carries the winner's decision, unaltered by the
	// losing attempts.
	got, err := svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != winner.kind || got.DecidedBy != winner.who {
		t.Errorf("stored decision: status=%q decided_by=%q, winner was %s (%q)",
			got.Status, got.DecidedBy, winner.who, winner.kind)
	}
	if got.Status != winner.won.Status || got.DecidedBy != winner.won.DecidedBy {
		t.Errorf("stored decision diverges from winner's copy: %q/%q vs %q/%q",
			got.Status, got.DecidedBy, winner.won.Status, winner.won.DecidedBy)
	}
}

func TestApprovals_UnauthorizedApprover(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, &approval.Config{
		Required:  true,
		Approvers: []string{"alice", "bob"},
	})

	if _, err := svc.Approve(context.Background(), req.ID, "mallory", ""); !errors.Is(err, approval.ErrUnauthorizedApprover) {
		t.Fatalf("got %v, want ErrUnauthorizedApprover", err)
	}

	// The failed attempt must not consume the request.
	if _, err := svc.Approve(context.Background(), req.ID, "bob", ""); err != nil {
		t.Fatalf("Approve by authorized approver: %v", err)
	}
}

func TestApprovals_ReasonRequired(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, &approval.Config{
		Required:       true,
		ReasonRequired: true,
	})

	if _, err := svc.Reject(context.Background(), req.ID, "alice", ""); !errors.Is(err, approval.ErrReasonRequired) {
		t.Fatalf("got %v, want ErrReasonRequired", err)
	}
	if _, err := svc.Reject(context.Background(), req.ID, "alice", "policy violation"); err != nil {
		t.Fatalf("Reject with reason: %v", err)
	}
}

func TestApprovals_WaitUnblocksOnApprove(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, nil)

	type waitResult struct {
		approved bool
		err      error
	}
	resultCh := make(chan waitResult, 1)
	go func() {
		approved, err := svc.WaitForDecision(context.Background(), req.ID, 5*time.Second)
		resultCh <- waitResult{approved, err}
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := svc.Approve(context.Background(), req.ID, "alice", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("WaitForDecision: %v", res.err)
		}
		if !res.approved {
			t.Error("approved = false, want true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForDecision did not unblock after Approve")
	}
}

func TestApprovals_WaitReturnsFalseOnReject(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, nil)

	resultCh := make(chan bool, 1)
	go func() {
		approved, _ := svc.WaitForDecision(context.Background(), req.ID, 5*time.Second)
		resultCh <- approved
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := svc.Reject(context.Background(), req.ID, "bob", "unsafe"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	select {
	case approved := <-resultCh:
		if approved {
			t.Error("approved = true, want false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForDecision did not unblock after Reject")
	}
}

func TestApprovals_WaitTimeoutLeavesRequestPending(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	req := createRequest(t, svc, nil)

	_, err := svc.WaitForDecision(context.Background(), req.ID, 50*time.Millisecond)
	if !errors.Is(err, approval.ErrWaitTimeout) {
		t.Fatalf("got %v, want ErrWaitTimeout", err)
	}

	got, err := svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approval.StatusPending {
		t.Errorf("status = %q, want pending: a wait timeout must not decide the request", got.Status)
	}

	// Still decidable afterwards.
	if _, err := svc.Approve(context.Background(), req.ID, "alice", ""); err != nil {
		t.Fatalf("Approve after wait timeout: %v", err)
	}
}

func TestApprovals_ExpiryOnObservation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	now := time.Now()
	svc.now = func() time.Time { return now }

	req := createRequest(t, svc, &approval.Config{Required: true, Timeout: time.Minute})

	// Past the deadline the request reports expired without any sweeper.
	now = now.Add(2 * time.Minute)

	got, err := svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approval.StatusExpired {
		t.Errorf("status = %q, want expired", got.Status)
	}

	if _, err := svc.Approve(context.Background(), req.ID, "alice", ""); !errors.Is(err, approval.ErrAlreadyDecided) {
		t.Fatalf("Approve after expiry: got %v, want ErrAlreadyDecided", err)
	}
}

func TestApprovals_AutoRejectOnTimeout(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	now := time.Now()
	svc.now = func() time.Time { return now }

	req := createRequest(t, svc, &approval.Config{
		Required:            true,
		Timeout:             time.Minute,
		AutoRejectOnTimeout: true,
	})

	now = now.Add(2 * time.Minute)

	got, err := svc.Get(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != approval.StatusRejected {
		t.Errorf("status = %q, want rejected", got.Status)
	}
	if got.DecidedBy != systemDecider {
		t.Errorf("decided_by = %q, want %q", got.DecidedBy, systemDecider)
	}
}

func TestApprovals_ListPendingOrder(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()

	low := createRequest(t, svc, &approval.Config{Required: true, Priority: approval.PriorityLow})
	crit := createRequest(t, svc, &approval.Config{Required: true, Priority: approval.PriorityCritical})
	med := createRequest(t, svc, nil) // defaults to medium

	got := svc.ListPending(context.Background(), Filter{})
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantOrder := []string{crit.ID, med.ID, low.ID}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s (priority order)", i, got[i].ID, id)
		}
	}
}

func TestApprovals_FilterByExecution(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	createRequest(t, svc, nil)

	other, err := svc.Create(context.Background(), CreateRequest{
		WorkflowID:  "wf-2",
		ExecutionID: "exec-2",
		StepID:      "step",
		StepName:    "Step",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got := svc.ListPending(context.Background(), Filter{ExecutionID: "exec-2"})
	if len(got) != 1 || got[0].ID != other.ID {
		t.Fatalf("filter by execution returned %d requests", len(got))
	}
}

func TestApprovals_BroadcastsLifecycleEvents(t *testing.T) {
	t.Parallel()

	svc, bc := newTestApprovals()
	req := createRequest(t, svc, nil)

	if _, err := svc.Approve(context.Background(), req.ID, "alice", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	types := bc.eventTypes()
	if len(types) != 2 {
		t.Fatalf("broadcast %d events, want 2: %v", len(types), types)
	}
	if types[0] != "approval.requested" || types[1] != "approval.decided" {
		t.Errorf("event types = %v", types)
	}
}

func TestApprovals_StatsCountsByStatus(t *testing.T) {
	t.Parallel()

	svc, _ := newTestApprovals()
	a := createRequest(t, svc, nil)
	createRequest(t, svc, nil)

	if _, err := svc.Approve(context.Background(), a.ID, "alice", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	st := svc.GetStats(context.Background())
	if st.Total != 2 {
		t.Errorf("total = %d, want 2", st.Total)
	}
	if st.ByStatus["approved"] != 1 || st.ByStatus["pending"] != 1 {
		t.Errorf("by_status = %v", st.ByStatus)
	}
}
