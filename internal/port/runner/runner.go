// Package runner defines the port for the external executor that performs
// the actual work of a step. The engine treats the operation as an opaque
// callable: it supplies the step definition and upstream outputs, and gets
// back a result or a classified error.
package runner

import (
	"context"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/workflow"
)

// StepInput carries everything the runner needs to perform one step.
type StepInput struct {
	WorkflowID  string
	ExecutionID string
	Step        workflow.Step

	// Upstream maps dependency step IDs to their recorded outputs.
	Upstream map[string]any
}

// Runner executes step operations. Implementations should honor ctx
// cancellation but the engine does not rely on it: an abandoned attempt is
// ignored, not forcibly stopped.
type Runner interface {
	RunStep(ctx context.Context, in StepInput) (any, error)
}
