package http

import (
	"net/http"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/resilience"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/service"
)

// Handlers bundles the API's service dependencies.
type Handlers struct {
	Workflows  *service.WorkflowService
	Executions *service.ExecutionService
	Approvals  *service.ApprovalService
	Resilience *resilience.Orchestrator
}

// --- Workflows ---

// ListWorkflows returns all workflow definitions.
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	wfs, err := h.Workflows.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "workflows not available")
		return
	}
	writeJSON(w, http.StatusOK, wfs)
}

// GetWorkflow returns one workflow definition.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	wf, err := h.Workflows.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// --- Executions ---

// StartExecution launches a run of the named workflow.
func (h *Handlers) StartExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	view, err := h.Executions.Start(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "workflow not found")
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// ListExecutions returns all known executions.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Executions.List(r.Context()))
}

// GetExecution returns one execution snapshot.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	view, err := h.Executions.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CancelExecution stops a running execution.
func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	view, err := h.Executions.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Approvals ---

// ListApprovals returns approval requests. status=pending (default) or
// status=decided; workflow_id and execution_id narrow the result.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	f := service.Filter{
		WorkflowID:  r.URL.Query().Get("workflow_id"),
		ExecutionID: r.URL.Query().Get("execution_id"),
	}

	switch r.URL.Query().Get("status") {
	case "", "pending":
		writeJSON(w, http.StatusOK, h.Approvals.ListPending(r.Context(), f))
	case "decided":
		writeJSON(w, http.StatusOK, h.Approvals.ListDecided(r.Context(), f))
	default:
		writeError(w, http.StatusBadRequest, "status must be pending or decided")
	}
}

// GetApproval returns one approval request.
func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, err := h.Approvals.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type decisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// ApproveRequest records a positive decision.
func (h *Handlers) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	body, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Approver, "approver") {
		return
	}

	req, err := h.Approvals.Approve(r.Context(), id, body.Approver, body.Reason)
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// RejectRequest records a negative decision.
func (h *Handlers) RejectRequest(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	body, ok := readJSON[decisionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.Approver, "approver") {
		return
	}

	req, err := h.Approvals.Reject(r.Context(), id, body.Approver, body.Reason)
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// CancelApproval withdraws a pending request.
func (h *Handlers) CancelApproval(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	req, err := h.Approvals.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "approval request not found")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// ApprovalStats returns aggregate approval counters.
func (h *Handlers) ApprovalStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Approvals.GetStats(r.Context()))
}

// --- Resilience admin ---

// ResilienceMetrics returns the aggregated resilience counters.
func (h *Handlers) ResilienceMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Resilience.MetricsSnapshot())
}

// ResetResilienceMetrics zeroes the resilience counters.
func (h *Handlers) ResetResilienceMetrics(w http.ResponseWriter, _ *http.Request) {
	h.Resilience.ResetMetrics()
	w.WriteHeader(http.StatusNoContent)
}

// GetCircuit returns breaker counters for one operation name.
func (h *Handlers) GetCircuit(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	snap, ok := h.Resilience.CircuitSnapshot(name)
	if !ok {
		writeError(w, http.StatusNotFound, "no circuit for operation")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ResetCircuit forces a breaker back to closed.
func (h *Handlers) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	name := urlParam(r, "name")
	h.Resilience.ResetCircuit(name)
	w.WriteHeader(http.StatusNoContent)
}
