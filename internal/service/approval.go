package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	potel "github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/otel"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/ws"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/config"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/approval"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/broadcast"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/eventbus"
)

// systemDecider is recorded as the approver on auto-rejected expiries.
const systemDecider = "system"

// ApprovalService owns the table of approval requests and the decision
// flow: create, decide exactly once, expire, and block waiters until a
// decision lands. All request state is in-memory; a failed call never
// mutates a stored request.
type ApprovalService struct {
	mu       sync.Mutex
	requests map[string]*approval.Request
	waiters  map[string]chan struct{} // closed when the request leaves pending

	hub     broadcast.Broadcaster
	bus     eventbus.Publisher
	metrics *potel.Metrics
	cfg     config.Approval
	now     func() time.Time // for testing
}

// NewApprovalService creates an approval manager. hub, bus and metrics are
// optional; nil disables the corresponding notifications.
func NewApprovalService(cfg config.Approval, hub broadcast.Broadcaster, bus eventbus.Publisher, metrics *potel.Metrics) *ApprovalService {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	return &ApprovalService{
		requests: make(map[string]*approval.Request),
		waiters:  make(map[string]chan struct{}),
		hub:      hub,
		bus:      bus,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateRequest holds the fields for opening a new approval request.
type CreateRequest struct {
	WorkflowID  string
	ExecutionID string
	StepID      string
	StepName    string
	AgentName   string
	Context     map[string]any
	Config      *approval.Config // nil uses the default policy
}

// Create opens a pending request that expires at now + config timeout.
func (s *ApprovalService) Create(ctx context.Context, req CreateRequest) (approval.Request, error) {
	cfg := approval.Config{Required: true, Priority: approval.PriorityMedium}
	if req.Config != nil {
		cfg = *req.Config
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = s.cfg.DefaultTimeout
	}
	if cfg.Priority == "" {
		cfg.Priority = approval.PriorityMedium
	}

	s.mu.Lock()
	now := s.now()
	r := &approval.Request{
		ID:          uuid.New().String(),
		WorkflowID:  req.WorkflowID,
		ExecutionID: req.ExecutionID,
		StepID:      req.StepID,
		StepName:    req.StepName,
		AgentName:   req.AgentName,
		Context:     req.Context,
		Config:      cfg,
		Status:      approval.StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(cfg.Timeout),
	}
	s.requests[r.ID] = r
	out := *r
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ApprovalsRequested.Add(ctx, 1, metric.WithAttributes(
			attribute.String("priority", string(out.Config.Priority))))
	}
	slog.Info("approval requested",
		"request_id", out.ID,
		"execution_id", out.ExecutionID,
		"step_id", out.StepID,
		"priority", out.Config.Priority,
		"expires_at", out.ExpiresAt,
	)

	s.broadcast(ctx, ws.EventApprovalRequested, ws.ApprovalRequestedEvent{
		RequestID:   out.ID,
		WorkflowID:  out.WorkflowID,
		ExecutionID: out.ExecutionID,
		StepID:      out.StepID,
		StepName:    out.StepName,
		AgentName:   out.AgentName,
		Priority:    string(out.Config.Priority),
		Context:     out.Context,
		ExpiresAt:   out.ExpiresAt,
	})
	s.publish(ctx, "approvals.requested", out)

	return out, nil
}

// Approve records a positive decision. Exactly one decision wins under
// concurrent callers; every loser gets ErrAlreadyDecided.
func (s *ApprovalService) Approve(ctx context.Context, id, approver, reason string) (approval.Request, error) {
	return s.decide(ctx, id, approver, reason, approval.StatusApproved)
}

// Reject records a negative decision.
func (s *ApprovalService) Reject(ctx context.Context, id, approver, reason string) (approval.Request, error) {
	return s.decide(ctx, id, approver, reason, approval.StatusRejected)
}

func (s *ApprovalService) decide(ctx context.Context, id, approver, reason string, to approval.Status) (approval.Request, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return approval.Request{}, approval.ErrNotFound
	}
	s.expireLocked(ctx, r)
	if r.Status != approval.StatusPending {
		s.mu.Unlock()
		return approval.Request{}, approval.ErrAlreadyDecided
	}
	if !r.Config.Allows(approver) {
		s.mu.Unlock()
		return approval.Request{}, approval.ErrUnauthorizedApprover
	}
	if r.Config.ReasonRequired && reason == "" {
		s.mu.Unlock()
		return approval.Request{}, approval.ErrReasonRequired
	}

	now := s.now()
	r.Status = to
	r.DecidedBy = approver
	r.DecisionReason = reason
	r.DecidedAt = &now
	s.wakeLocked(id)
	out := *r
	s.mu.Unlock()

	slog.Info("approval decided",
		"request_id", out.ID,
		"status", out.Status,
		"decided_by", approver,
	)
	s.notifyDecided(ctx, out)
	return out, nil
}

// Cancel transitions a pending request to cancelled. The transition is
// terminal under the same immutability rule as decisions.
func (s *ApprovalService) Cancel(ctx context.Context, id string) (approval.Request, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return approval.Request{}, approval.ErrNotFound
	}
	s.expireLocked(ctx, r)
	if r.Status != approval.StatusPending {
		s.mu.Unlock()
		return approval.Request{}, approval.ErrAlreadyDecided
	}

	now := s.now()
	r.Status = approval.StatusCancelled
	r.DecidedAt = &now
	s.wakeLocked(id)
	out := *r
	s.mu.Unlock()

	slog.Info("approval cancelled", "request_id", out.ID)
	s.notifyDecided(ctx, out)
	return out, nil
}

// Get returns the request, applying lazy expiry on observation.
func (s *ApprovalService) Get(ctx context.Context, id string) (approval.Request, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return approval.Request{}, approval.ErrNotFound
	}
	s.expireLocked(ctx, r)
	out := *r
	s.mu.Unlock()
	return out, nil
}

// WaitForDecision suspends the caller until the request leaves pending or
// timeout elapses. It returns true iff the request was approved and false
// for rejected/expired/cancelled. A wait timeout returns ErrWaitTimeout
// and leaves the stored request untouched (still pending); only the
// request's own expires_at deadline changes stored status.
func (s *ApprovalService) WaitForDecision(ctx context.Context, id string, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	r, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		return false, approval.ErrNotFound
	}
	s.expireLocked(ctx, r)
	if r.Status != approval.StatusPending {
		approved := r.Status == approval.StatusApproved
		s.mu.Unlock()
		return approved, nil
	}

	done, ok := s.waiters[id]
	if !ok {
		done = make(chan struct{})
		s.waiters[id] = done
	}
	// Wake ourselves when the request's own deadline passes so expiry does
	// not depend on the sweeper cadence.
	expiry := time.NewTimer(r.ExpiresAt.Sub(s.now()))
	s.mu.Unlock()
	defer expiry.Stop()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		select {
		case <-done:
			st, err := s.Get(ctx, id)
			if err != nil {
				return false, err
			}
			return st.Status == approval.StatusApproved, nil
		case <-expiry.C:
			// Observation triggers lazy expiry; if the request really is
			// past its deadline the waiter channel is closed and the next
			// loop iteration returns.
			if _, err := s.Get(ctx, id); err != nil {
				return false, err
			}
		case <-timer:
			return false, approval.ErrWaitTimeout
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Filter narrows list results.
type Filter struct {
	WorkflowID  string
	ExecutionID string
}

func (f Filter) matches(r *approval.Request) bool {
	if f.WorkflowID != "" && r.WorkflowID != f.WorkflowID {
		return false
	}
	if f.ExecutionID != "" && r.ExecutionID != f.ExecutionID {
		return false
	}
	return true
}

// ListPending returns pending requests sorted by priority (critical
// first), then oldest first.
func (s *ApprovalService) ListPending(ctx context.Context, f Filter) []approval.Request {
	s.mu.Lock()
	var out []approval.Request
	for _, r := range s.requests {
		s.expireLocked(ctx, r)
		if r.Status == approval.StatusPending && f.matches(r) {
			out = append(out, *r)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Config.Priority.Rank(), out[j].Config.Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListDecided returns non-pending requests, most recently decided first.
func (s *ApprovalService) ListDecided(ctx context.Context, f Filter) []approval.Request {
	s.mu.Lock()
	var out []approval.Request
	for _, r := range s.requests {
		s.expireLocked(ctx, r)
		if r.Status != approval.StatusPending && f.matches(r) {
			out = append(out, *r)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].DecidedAt, out[j].DecidedAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.After(*tj)
	})
	return out
}

// Stats summarizes the request table.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	AvgDecisionTime time.Duration  `json:"avg_decision_time_ns"`
}

// GetStats returns aggregate counts and the average time from creation to
// decision.
func (s *ApprovalService) GetStats(ctx context.Context) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{ByStatus: make(map[string]int)}
	var decided int
	var total time.Duration
	for _, r := range s.requests {
		s.expireLocked(ctx, r)
		st.Total++
		st.ByStatus[string(r.Status)]++
		if r.DecidedAt != nil {
			decided++
			total += r.DecidedAt.Sub(r.CreatedAt)
		}
	}
	if decided > 0 {
		st.AvgDecisionTime = total / time.Duration(decided)
	}
	return st
}

// StartSweeper launches the periodic expiry sweep and returns a stop
// function. Lazy expiry on observation already covers most paths; the
// sweep bounds how stale an unobserved request can get.
func (s *ApprovalService) StartSweeper(ctx context.Context) func() {
	sctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(sctx)
			case <-sctx.Done():
				return
			}
		}
	}()
	return cancel
}

func (s *ApprovalService) sweep(ctx context.Context) {
	s.mu.Lock()
	for _, r := range s.requests {
		s.expireLocked(ctx, r)
	}
	s.mu.Unlock()
}

// expireLocked applies the expiry transition to a pending request past its
// deadline. Must be called with s.mu held.
func (s *ApprovalService) expireLocked(ctx context.Context, r *approval.Request) {
	if !r.Expired(s.now()) {
		return
	}

	now := s.now()
	if r.Config.AutoRejectOnTimeout {
		r.Status = approval.StatusRejected
		r.DecidedBy = systemDecider
		r.DecisionReason = "approval request timed out"
	} else {
		r.Status = approval.StatusExpired
	}
	r.DecidedAt = &now
	s.wakeLocked(r.ID)

	out := *r
	slog.Warn("approval expired",
		"request_id", out.ID,
		"execution_id", out.ExecutionID,
		"auto_reject", out.Config.AutoRejectOnTimeout,
	)
	go s.notifyDecided(ctx, out)
}

// wakeLocked closes the waiter channel for id. Must be called with s.mu
// held.
func (s *ApprovalService) wakeLocked(id string) {
	if done, ok := s.waiters[id]; ok {
		close(done)
		delete(s.waiters, id)
	}
}

func (s *ApprovalService) notifyDecided(ctx context.Context, r approval.Request) {
	if s.metrics != nil {
		s.metrics.ApprovalsDecided.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(r.Status))))
		if r.DecidedAt != nil {
			s.metrics.ApprovalWait.Record(ctx, r.DecidedAt.Sub(r.CreatedAt).Seconds())
		}
	}
	s.broadcast(ctx, ws.EventApprovalDecided, ws.ApprovalDecidedEvent{
		RequestID:   r.ID,
		ExecutionID: r.ExecutionID,
		StepID:      r.StepID,
		Status:      string(r.Status),
		DecidedBy:   r.DecidedBy,
		Reason:      r.DecisionReason,
	})
	s.publish(ctx, "approvals.decided", r)
}

func (s *ApprovalService) broadcast(ctx context.Context, eventType string, payload any) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, eventType, payload)
	}
}

func (s *ApprovalService) publish(ctx context.Context, subject string, payload any) {
	if s.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal event", "subject", subject, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, subject, data); err != nil {
		slog.Warn("publish event", "subject", subject, "error", err)
	}
}
