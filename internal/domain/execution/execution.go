// Package execution defines the state machine for one workflow run: the
// execution's lifecycle, per-step states, and the invariants tying approval
// suspension to the run status. All state is in-memory; durable recovery is
// out of scope.
package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain"
)

// Status is the lifecycle state of an execution. Terminal states are
// absorbing.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal returns true if the execution can no longer change state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of one step within an execution.
type StepStatus string

const (
	StepPending          StepStatus = "pending"
	StepAwaitingApproval StepStatus = "awaiting_approval"
	StepRunning          StepStatus = "running"
	StepCompleted        StepStatus = "completed"
	StepFailed           StepStatus = "failed"
	StepSkipped          StepStatus = "skipped"
	StepCancelled        StepStatus = "cancelled"
)

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped, StepCancelled:
		return true
	}
	return false
}

// StepState tracks one step's progress within an execution.
type StepState struct {
	StepID       string     `json:"step_id"`
	Status       StepStatus `json:"status"`
	Attempts     int        `json:"attempts,omitempty"`
	UsedFallback bool       `json:"used_fallback,omitempty"`
	Output       any        `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at,omitzero"`
	FinishedAt   time.Time  `json:"finished_at,omitzero"`
}

// View is an immutable snapshot of an execution for callers outside the
// engine.
type View struct {
	ID                string               `json:"id"`
	WorkflowID        string               `json:"workflow_id"`
	Status            Status               `json:"status"`
	CurrentStep       string               `json:"current_step,omitempty"`
	PendingApprovalID string               `json:"pending_approval_id,omitempty"`
	Error             string               `json:"error,omitempty"`
	Steps             map[string]StepState `json:"steps"`
	CreatedAt         time.Time            `json:"created_at"`
	StartedAt         time.Time            `json:"started_at,omitzero"`
	FinishedAt        time.Time            `json:"finished_at,omitzero"`
}

// Execution is the state machine for one workflow run. All transitions are
// serialized by an internal mutex; once a terminal status is reached the
// entity is immutable. Invariant: PendingApprovalID is non-empty iff the
// status is awaiting_approval, and at most one approval is pending at a
// time.
type Execution struct {
	mu sync.Mutex

	id                string
	workflowID        string
	status            Status
	currentStep       string
	pendingApprovalID string
	err               string
	steps             map[string]*StepState

	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time

	now func() time.Time // for testing
}

// New creates a pending execution for workflowID with all of stepIDs in the
// pending state.
func New(id, workflowID string, stepIDs []string) *Execution {
	e := &Execution{
		id:         id,
		workflowID: workflowID,
		status:     StatusPending,
		steps:      make(map[string]*StepState, len(stepIDs)),
		now:        time.Now,
	}
	e.createdAt = e.now()
	for _, sid := range stepIDs {
		e.steps[sid] = &StepState{StepID: sid, Status: StepPending}
	}
	return e
}

// ID returns the execution ID.
func (e *Execution) ID() string { return e.id }

// WorkflowID returns the workflow this run was created from.
func (e *Execution) WorkflowID() string { return e.workflowID }

// Status returns the current lifecycle status.
func (e *Execution) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Err returns the last recorded error message.
func (e *Execution) Err() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Snapshot returns a deep copy of the current state.
func (e *Execution) Snapshot() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	steps := make(map[string]StepState, len(e.steps))
	for id, st := range e.steps {
		steps[id] = *st
	}
	return View{
		ID:                e.id,
		WorkflowID:        e.workflowID,
		Status:            e.status,
		CurrentStep:       e.currentStep,
		PendingApprovalID: e.pendingApprovalID,
		Error:             e.err,
		Steps:             steps,
		CreatedAt:         e.createdAt,
		StartedAt:         e.startedAt,
		FinishedAt:        e.finishedAt,
	}
}

// Start transitions pending → running.
func (e *Execution) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusPending {
		return e.transitionErr(StatusRunning)
	}
	e.status = StatusRunning
	e.startedAt = e.now()
	return nil
}

// AwaitApproval transitions running → awaiting_approval, recording the step
// and approval request driving the suspension. Only one approval may be
// pending at a time.
func (e *Execution) AwaitApproval(stepID, approvalID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning {
		return e.transitionErr(StatusAwaitingApproval)
	}
	if e.pendingApprovalID != "" {
		return fmt.Errorf("approval %s already pending: %w", e.pendingApprovalID, domain.ErrConflict)
	}
	e.status = StatusAwaitingApproval
	e.currentStep = stepID
	e.pendingApprovalID = approvalID
	if st, ok := e.steps[stepID]; ok {
		st.Status = StepAwaitingApproval
	}
	return nil
}

// ResumeFromApproval transitions awaiting_approval → running and clears the
// pending approval.
func (e *Execution) ResumeFromApproval() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusAwaitingApproval {
		return e.transitionErr(StatusRunning)
	}
	e.status = StatusRunning
	e.pendingApprovalID = ""
	return nil
}

// Complete transitions running → completed.
func (e *Execution) Complete() error {
	return e.finish(StatusCompleted, "")
}

// Fail transitions running/awaiting_approval → failed, recording msg.
func (e *Execution) Fail(msg string) error {
	return e.finish(StatusFailed, msg)
}

// Cancel transitions any non-terminal state → cancelled. Cancellation is
// cooperative bookkeeping; in-flight operations are not interrupted.
func (e *Execution) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status.IsTerminal() {
		return e.transitionErr(StatusCancelled)
	}
	e.status = StatusCancelled
	e.pendingApprovalID = ""
	e.finishedAt = e.now()
	for _, st := range e.steps {
		if !st.Status.IsTerminal() {
			if st.Status == StepPending {
				st.Status = StepSkipped
			} else {
				st.Status = StepCancelled
			}
		}
	}
	return nil
}

// Cancelled reports whether the execution has been cancelled.
func (e *Execution) Cancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == StatusCancelled
}

func (e *Execution) finish(to Status, msg string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusRunning && e.status != StatusAwaitingApproval {
		return e.transitionErr(to)
	}
	e.status = to
	e.pendingApprovalID = ""
	if msg != "" {
		e.err = msg
	}
	e.finishedAt = e.now()
	return nil
}

// transitionErr must be called with e.mu held.
func (e *Execution) transitionErr(to Status) error {
	return fmt.Errorf("execution %s is %s, cannot transition to %s: %w", e.id, e.status, to, domain.ErrConflict)
}

// --- step state transitions ---

// StepStarted marks a step running and records it as the current step. It
// reports false when the step is already terminal; the scheduler may have
// skipped or cancelled a step between dispatch and start, and a terminal
// step must never be revived.
func (e *Execution) StepStarted(stepID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.steps[stepID]
	if !ok || st.Status.IsTerminal() {
		return false
	}
	st.Status = StepRunning
	st.StartedAt = e.now()
	e.currentStep = stepID
	return true
}

// StepCompleted records a successful step result.
func (e *Execution) StepCompleted(stepID string, output any, attempts int, usedFallback bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.steps[stepID]
	if !ok || st.Status.IsTerminal() {
		return
	}
	st.Status = StepCompleted
	st.Output = output
	st.Attempts = attempts
	st.UsedFallback = usedFallback
	st.FinishedAt = e.now()
}

// StepFailed records a step failure and captures the error on the
// execution. The failure does not itself decide the run's fate; that is
// workflow policy applied by the engine.
func (e *Execution) StepFailed(stepID, msg string, attempts int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.steps[stepID]
	if !ok || st.Status.IsTerminal() {
		return
	}
	st.Status = StepFailed
	st.Error = msg
	st.Attempts = attempts
	st.FinishedAt = e.now()
	e.err = fmt.Sprintf("step %s: %s", stepID, msg)
}

// StepSkippedBy marks a pending step skipped because reason (a failed or
// skipped dependency) can never complete.
func (e *Execution) StepSkippedBy(stepID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.steps[stepID]
	if !ok || st.Status.IsTerminal() {
		return
	}
	st.Status = StepSkipped
	st.Error = reason
	st.FinishedAt = e.now()
}

// StepState returns a copy of the step's state.
func (e *Execution) StepState(stepID string) (StepState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.steps[stepID]
	if !ok {
		return StepState{}, false
	}
	return *st, true
}

// StepOutput returns the recorded output of a completed step.
func (e *Execution) StepOutput(stepID string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.steps[stepID]
	if !ok || st.Status != StepCompleted {
		return nil, false
	}
	return st.Output, true
}
