package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "paracle"

// StartExecutionSpan starts a span covering one workflow run.
func StartExecutionSpan(ctx context.Context, executionID, workflowID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execution",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("workflow.id", workflowID),
		),
	)
}

// StartStepSpan starts a span for one step invocation within a run.
func StartStepSpan(ctx context.Context, executionID, stepID, operation string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "step",
		trace.WithAttributes(
			attribute.String("execution.id", executionID),
			attribute.String("step.id", stepID),
			attribute.String("step.operation", operation),
		),
	)
}

// StartApprovalSpan starts a span covering an approval suspension.
func StartApprovalSpan(ctx context.Context, requestID, stepID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "approval",
		trace.WithAttributes(
			attribute.String("approval.id", requestID),
			attribute.String("step.id", stepID),
		),
	)
}
