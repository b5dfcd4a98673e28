package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Workflows
		r.Get("/workflows", h.ListWorkflows)
		r.Get("/workflows/{id}", h.GetWorkflow)
		r.Post("/workflows/{id}/executions", h.StartExecution)

		// Executions
		r.Get("/executions", h.ListExecutions)
		r.Get("/executions/{id}", h.GetExecution)
		r.Post("/executions/{id}/cancel", h.CancelExecution)

		// Approvals
		r.Get("/approvals", h.ListApprovals)
		r.Get("/approvals/stats", h.ApprovalStats)
		r.Get("/approvals/{id}", h.GetApproval)
		r.Post("/approvals/{id}/approve", h.ApproveRequest)
		r.Post("/approvals/{id}/reject", h.RejectRequest)
		r.Post("/approvals/{id}/cancel", h.CancelApproval)

		// Resilience admin
		r.Get("/resilience/metrics", h.ResilienceMetrics)
		r.Post("/resilience/metrics/reset", h.ResetResilienceMetrics)
		r.Get("/resilience/circuits/{name}", h.GetCircuit)
		r.Post("/resilience/circuits/{name}/reset", h.ResetCircuit)
	})
}
