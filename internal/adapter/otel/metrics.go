package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "paracle"

// Metrics holds the engine's metric instruments.
type Metrics struct {
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	StepsRun            metric.Int64Counter
	ApprovalsRequested  metric.Int64Counter
	ApprovalsDecided    metric.Int64Counter
	StepDuration        metric.Float64Histogram
	ApprovalWait        metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("paracle.executions.started",
		metric.WithDescription("Number of workflow executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCompleted, err = meter.Int64Counter("paracle.executions.completed",
		metric.WithDescription("Number of workflow executions completed"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFailed, err = meter.Int64Counter("paracle.executions.failed",
		metric.WithDescription("Number of workflow executions failed"))
	if err != nil {
		return nil, err
	}

	m.StepsRun, err = meter.Int64Counter("paracle.steps.run",
		metric.WithDescription("Number of step invocations"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsRequested, err = meter.Int64Counter("paracle.approvals.requested",
		metric.WithDescription("Number of approval requests opened"))
	if err != nil {
		return nil, err
	}

	m.ApprovalsDecided, err = meter.Int64Counter("paracle.approvals.decided",
		metric.WithDescription("Number of approval requests decided"))
	if err != nil {
		return nil, err
	}

	m.StepDuration, err = meter.Float64Histogram("paracle.step.duration_seconds",
		metric.WithDescription("Step duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ApprovalWait, err = meter.Float64Histogram("paracle.approval.wait_seconds",
		metric.WithDescription("Time from approval request to decision in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
