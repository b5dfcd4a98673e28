// Package approval defines the human-in-the-loop approval domain: requests
// that suspend a workflow step until an authorized decision arrives or a
// deadline passes.
package approval

import (
	"errors"
	"slices"
	"time"
)

// Status is the lifecycle state of an approval request. Once a request
// leaves Pending it is terminal and permanently immutable.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the request can no longer be decided.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Priority orders pending requests for reviewers.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns the sort weight of the priority; higher sorts first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// Sentinel errors surfaced by the approval manager.
var (
	ErrNotFound = errors.New("approval request not found")

	// ErrAlreadyDecided is returned to every caller that loses the race to
	// decide a request; the winning decision is never altered.
	ErrAlreadyDecided = errors.New("approval request already decided")

	ErrUnauthorizedApprover = errors.New("approver not authorized for this request")

	// ErrWaitTimeout is returned by WaitForDecision when the wait deadline
	// elapses; the underlying request stays pending.
	ErrWaitTimeout = errors.New("timed out waiting for approval decision")

	ErrReasonRequired = errors.New("decision reason is required")
)

// Config is the per-step approval policy, supplied by the workflow
// definition.
type Config struct {
	// Required gates the step behind a human decision.
	Required bool `json:"required" yaml:"required"`

	// Approvers restricts who may decide. Empty means anyone.
	Approvers []string `json:"approvers,omitempty" yaml:"approvers,omitempty"`

	// Timeout bounds how long the request stays pending. Zero falls back
	// to the manager's default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Priority Priority `json:"priority,omitempty" yaml:"priority,omitempty"`

	// AutoRejectOnTimeout makes expiry equivalent to a system-issued
	// rejection instead of a plain expiration.
	AutoRejectOnTimeout bool `json:"auto_reject_on_timeout,omitempty" yaml:"auto_reject_on_timeout,omitempty"`

	// ReasonRequired rejects decisions that omit a reason.
	ReasonRequired bool `json:"reason_required,omitempty" yaml:"reason_required,omitempty"`
}

// Allows reports whether approver may decide requests under this config.
func (c Config) Allows(approver string) bool {
	if len(c.Approvers) == 0 {
		return true
	}
	return slices.Contains(c.Approvers, approver)
}

// Request is one pending or decided approval.
type Request struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	AgentName   string         `json:"agent_name,omitempty"`
	Context     map[string]any `json:"context,omitempty"`

	Config Config `json:"config"`
	Status Status `json:"status"`

	DecidedBy      string `json:"decided_by,omitempty"`
	DecisionReason string `json:"decision_reason,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Expired reports whether a still-pending request is past its deadline at t.
func (r *Request) Expired(t time.Time) bool {
	return r.Status == StatusPending && !r.ExpiresAt.IsZero() && !t.Before(r.ExpiresAt)
}
