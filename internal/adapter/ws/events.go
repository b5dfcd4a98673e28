package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event type constants for WebSocket messages.
const (
	EventApprovalRequested = "approval.requested"
	EventApprovalDecided   = "approval.decided"
	EventExecutionStatus   = "execution.status"
	EventStepStatus        = "step.status"
)

// ApprovalRequestedEvent is broadcast when a step suspends on a human
// decision.
type ApprovalRequestedEvent struct {
	RequestID   string         `json:"request_id"`
	WorkflowID  string         `json:"workflow_id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	StepName    string         `json:"step_name"`
	AgentName   string         `json:"agent_name,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// ApprovalDecidedEvent is broadcast when a request leaves the pending
// state.
type ApprovalDecidedEvent struct {
	RequestID   string `json:"request_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Status      string `json:"status"`
	DecidedBy   string `json:"decided_by,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ExecutionStatusEvent is broadcast when an execution changes lifecycle
// state.
type ExecutionStatusEvent struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	Status      string `json:"status"`
	CurrentStep string `json:"current_step,omitempty"`
	Error       string `json:"error,omitempty"`
}

// StepStatusEvent is broadcast when a step changes state within an
// execution.
type StepStatusEvent struct {
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Status      string `json:"status"`
	Attempts    int    `json:"attempts,omitempty"`
	Error       string `json:"error,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and
// broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
