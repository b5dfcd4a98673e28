package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	potel "github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/otel"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/adapter/ws"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/config"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/approval"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/execution"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/workflow"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/broadcast"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/eventbus"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/repository"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/runner"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/resilience"
)

// run bundles one live execution with its cancellation handle. approvalMu
// serializes approval-gated steps within the run: the execution allows at
// most one pending approval at a time.
type run struct {
	exec   *execution.Execution
	cancel context.CancelFunc

	approvalMu sync.Mutex
}

// ExecutionService drives workflow runs: it schedules steps respecting the
// dependency DAG and the parallelism bound, gates steps behind human
// approval, and wraps every step invocation in the resilience stack.
type ExecutionService struct {
	repo      repository.Workflows
	runner    runner.Runner
	approvals *ApprovalService
	resil     *resilience.Orchestrator

	hub     broadcast.Broadcaster
	bus     eventbus.Publisher
	metrics *potel.Metrics
	cfg     config.Engine

	mu   sync.Mutex
	runs map[string]*run
}

// NewExecutionService creates the engine. hub, bus and metrics are
// optional.
func NewExecutionService(
	repo repository.Workflows,
	r runner.Runner,
	approvals *ApprovalService,
	resil *resilience.Orchestrator,
	hub broadcast.Broadcaster,
	bus eventbus.Publisher,
	metrics *potel.Metrics,
	cfg config.Engine,
) *ExecutionService {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 4
	}
	return &ExecutionService{
		repo:      repo,
		runner:    r,
		approvals: approvals,
		resil:     resil,
		hub:       hub,
		bus:       bus,
		metrics:   metrics,
		cfg:       cfg,
		runs:      make(map[string]*run),
	}
}

// Start creates an execution for the named workflow and launches it in the
// background. The run outlives the request context.
func (s *ExecutionService) Start(ctx context.Context, workflowID string) (execution.View, error) {
	wf, err := s.repo.Get(ctx, workflowID)
	if err != nil {
		return execution.View{}, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}

	stepIDs := make([]string, len(wf.Steps))
	for i, st := range wf.Steps {
		stepIDs[i] = st.ID
	}

	exec := execution.New(uuid.New().String(), wf.ID, stepIDs)
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{exec: exec, cancel: cancel}

	s.mu.Lock()
	s.runs[exec.ID()] = r
	s.mu.Unlock()

	if err := exec.Start(); err != nil {
		cancel()
		return execution.View{}, err
	}

	slog.Info("execution started",
		"execution_id", exec.ID(),
		"workflow_id", wf.ID,
		"steps", len(wf.Steps),
	)
	s.notifyExecution(runCtx, exec)

	go s.runWorkflow(runCtx, wf, r)

	return exec.Snapshot(), nil
}

// Get returns a snapshot of the execution.
func (s *ExecutionService) Get(ctx context.Context, id string) (execution.View, error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return execution.View{}, domain.ErrNotFound
	}
	return r.exec.Snapshot(), nil
}

// List returns snapshots of all known executions, newest first.
func (s *ExecutionService) List(ctx context.Context) []execution.View {
	s.mu.Lock()
	out := make([]execution.View, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.exec.Snapshot())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cancel stops a running execution. In-flight step operations are
// abandoned, not interrupted; a pending approval request is cancelled with
// the run.
func (s *ExecutionService) Cancel(ctx context.Context, id string) (execution.View, error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return execution.View{}, domain.ErrNotFound
	}

	pendingApproval := r.exec.Snapshot().PendingApprovalID

	if err := r.exec.Cancel(); err != nil {
		return execution.View{}, err
	}
	r.cancel()

	if pendingApproval != "" {
		if _, err := s.approvals.Cancel(ctx, pendingApproval); err != nil {
			slog.Warn("cancel pending approval", "request_id", pendingApproval, "error", err)
		}
	}

	slog.Info("execution cancelled", "execution_id", id)
	s.notifyExecution(ctx, r.exec)
	return r.exec.Snapshot(), nil
}

// runWorkflow is the scheduling loop for one run. It dispatches ready
// steps until every step reaches a terminal state, then finalizes the
// execution status.
func (s *ExecutionService) runWorkflow(ctx context.Context, wf *workflow.Workflow, r *run) {
	exec := r.exec

	ctx, span := potel.StartExecutionSpan(ctx, exec.ID(), wf.ID)
	defer span.End()
	if s.metrics != nil {
		s.metrics.ExecutionsStarted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("workflow", wf.ID)))
	}

	order := make([]string, len(wf.Steps))
	deps := make(map[string][]string, len(wf.Steps))
	for i, st := range wf.Steps {
		order[i] = st.ID
		deps[st.ID] = st.DependsOn
	}

	maxParallel := wf.MaxParallel
	if maxParallel < 1 {
		maxParallel = s.cfg.MaxParallel
	}
	policy := wf.OnStepFailure
	if policy == "" {
		policy = workflow.FailFast
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	// Each finished step pokes the loop to reschedule.
	notify := make(chan struct{}, 1)
	poke := func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	}

	dispatched := make(map[string]bool, len(wf.Steps))
	var inflight sync.WaitGroup

loop:
	for {
		if exec.Cancelled() {
			break
		}

		// Steps whose dependencies can never complete are skipped, and
		// under fail_fast a single failure skips everything still pending.
		if policy == workflow.FailFast && exec.AnyStepFailed() {
			for _, id := range order {
				if st, ok := exec.StepState(id); ok && st.Status == execution.StepPending {
					exec.StepSkippedBy(id, "earlier step failed")
					s.notifyStep(ctx, exec, id)
				}
			}
		}
		for _, id := range exec.BlockedSteps(order, deps) {
			exec.StepSkippedBy(id, "dependency did not complete")
			s.notifyStep(ctx, exec, id)
		}

		if exec.AllStepsTerminal() {
			break
		}

		dispatchedAny := false
		for _, id := range exec.ReadySteps(order, deps) {
			if dispatched[id] {
				continue
			}
			dispatched[id] = true
			dispatchedAny = true
			step := *wf.Step(id)
			inflight.Add(1)
			g.Go(func() error {
				defer inflight.Done()
				defer poke()
				s.runStep(gctx, wf, r, step, deps[step.ID])
				return nil
			})
		}

		if !dispatchedAny {
			// Nothing ready and nothing running means the DAG cannot make
			// progress; validation should prevent this, but guard anyway.
			done := make(chan struct{})
			go func() { inflight.Wait(); close(done) }()
			select {
			case <-notify:
				continue
			case <-done:
				select {
				case <-notify:
					continue
				default:
				}
				for _, id := range order {
					if st, ok := exec.StepState(id); ok && st.Status == execution.StepPending {
						exec.StepSkippedBy(id, "unreachable step")
					}
				}
				break loop
			case <-ctx.Done():
				break loop
			}
		}
	}

	_ = g.Wait()

	switch {
	case exec.Cancelled():
		// Cancel already finalized the state.
	case exec.AnyStepFailed():
		if err := exec.Fail(exec.Err()); err != nil {
			slog.Warn("finalize execution", "execution_id", exec.ID(), "error", err)
		}
	default:
		if err := exec.Complete(); err != nil {
			slog.Warn("finalize execution", "execution_id", exec.ID(), "error", err)
		}
	}

	view := exec.Snapshot()
	span.SetAttributes(attribute.String("execution.status", string(view.Status)))
	if view.Status == execution.StatusFailed {
		span.SetStatus(codes.Error, view.Error)
	}
	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("workflow", wf.ID))
		switch view.Status {
		case execution.StatusFailed:
			s.metrics.ExecutionsFailed.Add(ctx, 1, attrs)
		case execution.StatusCompleted:
			s.metrics.ExecutionsCompleted.Add(ctx, 1, attrs)
		}
	}
	slog.Info("execution finished",
		"execution_id", view.ID,
		"workflow_id", view.WorkflowID,
		"status", view.Status,
	)
	s.notifyExecution(context.WithoutCancel(ctx), exec)
}

// runStep drives one step through its approval gate and the resilience
// stack, recording the outcome on the execution.
func (s *ExecutionService) runStep(ctx context.Context, wf *workflow.Workflow, r *run, step workflow.Step, stepDeps []string) {
	exec := r.exec

	if step.Approval != nil && step.Approval.Required {
		if !s.awaitApproval(ctx, r, step) {
			return
		}
	}
	if exec.Cancelled() || ctx.Err() != nil {
		return
	}

	upstream := make(map[string]any, len(stepDeps))
	for _, dep := range stepDeps {
		if out, ok := exec.StepOutput(dep); ok {
			upstream[dep] = out
		}
	}

	if !exec.StepStarted(step.ID) {
		return
	}
	s.notifyStep(ctx, exec, step.ID)

	ctx, span := potel.StartStepSpan(ctx, exec.ID(), step.ID, step.Operation)
	defer span.End()
	stepStart := time.Now()

	op := func(ctx context.Context) (any, error) {
		return s.runner.RunStep(ctx, runner.StepInput{
			WorkflowID:  wf.ID,
			ExecutionID: exec.ID(),
			Step:        step,
			Upstream:    upstream,
		})
	}

	var opts []resilience.ExecOption
	if step.Retry != nil {
		opts = append(opts, resilience.WithPolicy(policyFromSpec(*step.Retry)))
	}
	if step.Timeout > 0 {
		opts = append(opts, resilience.WithTimeout(step.Timeout))
	}
	if step.FallbackValue != nil {
		fallback := step.FallbackValue
		opts = append(opts, resilience.WithFallback(func(context.Context) (any, error) {
			return fallback, nil
		}))
	}

	out, err := s.resil.Execute(ctx, step.ID, op, opts...)
	if s.metrics != nil {
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		attrs := metric.WithAttributes(
			attribute.String("step", step.ID),
			attribute.String("outcome", outcome),
		)
		s.metrics.StepsRun.Add(ctx, 1, attrs)
		s.metrics.StepDuration.Record(ctx, time.Since(stepStart).Seconds(), attrs)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		attempts := 1
		if out != nil {
			attempts = out.Attempts
		}
		exec.StepFailed(step.ID, err.Error(), attempts)
		slog.Warn("step failed",
			"execution_id", exec.ID(),
			"step_id", step.ID,
			"attempts", attempts,
			"error", err,
		)
		s.notifyStep(ctx, exec, step.ID)
		return
	}

	exec.StepCompleted(step.ID, out.Result, out.Attempts, out.UsedFallback)
	slog.Info("step completed",
		"execution_id", exec.ID(),
		"step_id", step.ID,
		"attempts", out.Attempts,
		"used_fallback", out.UsedFallback,
	)
	s.notifyStep(ctx, exec, step.ID)
}

// awaitApproval suspends the step on a human decision. It returns true only
// when the request was approved; a rejection, expiry or cancellation fails
// the step without invoking the operation.
func (s *ExecutionService) awaitApproval(ctx context.Context, r *run, step workflow.Step) bool {
	exec := r.exec

	// One pending approval per execution; gated siblings queue here.
	r.approvalMu.Lock()
	defer r.approvalMu.Unlock()

	if exec.Cancelled() || ctx.Err() != nil {
		return false
	}

	req, err := s.approvals.Create(ctx, CreateRequest{
		WorkflowID:  exec.WorkflowID(),
		ExecutionID: exec.ID(),
		StepID:      step.ID,
		StepName:    step.Name,
		AgentName:   step.AgentName,
		Context:     step.Params,
		Config:      step.Approval,
	})
	if err != nil {
		exec.StepFailed(step.ID, fmt.Sprintf("create approval request: %s", err), 0)
		s.notifyStep(ctx, exec, step.ID)
		return false
	}

	if err := exec.AwaitApproval(step.ID, req.ID); err != nil {
		_, _ = s.approvals.Cancel(ctx, req.ID)
		exec.StepFailed(step.ID, err.Error(), 0)
		s.notifyStep(ctx, exec, step.ID)
		return false
	}
	s.notifyExecution(ctx, exec)
	s.notifyStep(ctx, exec, step.ID)

	// The request's own expiry bounds the wait; no separate deadline here.
	waitCtx, span := potel.StartApprovalSpan(ctx, req.ID, step.ID)
	approved, err := s.approvals.WaitForDecision(waitCtx, req.ID, 0)
	span.SetAttributes(attribute.Bool("approval.approved", approved))
	span.End()

	if resumeErr := exec.ResumeFromApproval(); resumeErr != nil {
		// Cancellation finalized the run while we waited.
		return false
	}
	s.notifyExecution(ctx, exec)

	if err != nil {
		exec.StepFailed(step.ID, fmt.Sprintf("approval wait: %s", err), 0)
		s.notifyStep(ctx, exec, step.ID)
		return false
	}
	if !approved {
		decided, _ := s.approvals.Get(ctx, req.ID)
		msg := "approval " + string(decided.Status)
		if decided.Status == approval.StatusRejected && decided.DecisionReason != "" {
			msg += ": " + decided.DecisionReason
		}
		exec.StepFailed(step.ID, msg, 0)
		s.notifyStep(ctx, exec, step.ID)
		return false
	}
	return true
}

// policyFromSpec maps a definition's retry override to a resilience policy.
// Zero fields keep the orchestrator defaults for that knob.
func policyFromSpec(spec workflow.RetrySpec) resilience.Policy {
	return resilience.Policy{
		MaxAttempts:  spec.MaxAttempts,
		Backoff:      resilience.Backoff(spec.Backoff),
		InitialDelay: spec.InitialDelay,
		MaxDelay:     spec.MaxDelay,
		JitterFactor: spec.JitterFactor,
	}
}

func (s *ExecutionService) notifyExecution(ctx context.Context, exec *execution.Execution) {
	view := exec.Snapshot()
	s.broadcast(ctx, ws.EventExecutionStatus, ws.ExecutionStatusEvent{
		ExecutionID: view.ID,
		WorkflowID:  view.WorkflowID,
		Status:      string(view.Status),
		CurrentStep: view.CurrentStep,
		Error:       view.Error,
	})
	s.publish(ctx, "executions.status", view)
}

func (s *ExecutionService) notifyStep(ctx context.Context, exec *execution.Execution, stepID string) {
	st, ok := exec.StepState(stepID)
	if !ok {
		return
	}
	s.broadcast(ctx, ws.EventStepStatus, ws.StepStatusEvent{
		ExecutionID: exec.ID(),
		StepID:      stepID,
		Status:      string(st.Status),
		Attempts:    st.Attempts,
		Error:       st.Error,
	})
}

func (s *ExecutionService) broadcast(ctx context.Context, eventType string, payload any) {
	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, eventType, payload)
	}
}

func (s *ExecutionService) publish(ctx context.Context, subject string, payload any) {
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
