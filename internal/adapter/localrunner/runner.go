// Package localrunner implements the step runner port with built-in
// operations executed in-process. It is the default runner for
// deployments without an external agent runtime, and the workhorse for
// exercising workflows end to end.
package localrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/runner"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/resilience"
)

// ErrUnknownOperation is returned for operations the runner does not
// implement. It is marked non-retryable: retrying cannot make an unknown
// operation known.
var ErrUnknownOperation = errors.New("unknown operation")

// Runner executes built-in step operations.
type Runner struct{}

// New creates the local runner.
func New() *Runner {
	return &Runner{}
}

// RunStep dispatches on the step's operation name:
//
//	echo   — returns the step params merged with upstream outputs
//	sleep  — waits for the "duration" param, honoring cancellation
//	fail   — returns an error of the "class" param, for drills
//
// An empty operation defaults to echo.
func (r *Runner) RunStep(ctx context.Context, in runner.StepInput) (any, error) {
	op := in.Step.Operation
	if op == "" {
		op = "echo"
	}

	switch op {
	case "echo":
		return r.echo(in), nil
	case "sleep":
		return r.sleep(ctx, in)
	case "fail":
		return nil, r.fail(in)
	default:
		return nil, resilience.Validation(fmt.Errorf("%w: %q", ErrUnknownOperation, op))
	}
}

func (r *Runner) echo(in runner.StepInput) map[string]any {
	out := make(map[string]any, len(in.Step.Params)+1)
	for k, v := range in.Step.Params {
		out[k] = v
	}
	if len(in.Upstream) > 0 {
		out["upstream"] = in.Upstream
	}
	return out
}

func (r *Runner) sleep(ctx context.Context, in runner.StepInput) (any, error) {
	d := 100 * time.Millisecond
	if raw, ok := in.Step.Params["duration"]; ok {
		s, ok := raw.(string)
		if !ok {
			return nil, resilience.Validation(fmt.Errorf("sleep duration must be a string, got %T", raw))
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return nil, resilience.Validation(fmt.Errorf("sleep duration: %w", err))
		}
		d = parsed
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail fabricates an error of the requested class so operators can drill
// retry, breaker and fallback behavior with a plain workflow definition.
func (r *Runner) fail(in runner.StepInput) error {
	class, _ := in.Step.Params["class"].(string)
	msg, _ := in.Step.Params["message"].(string)
	if msg == "" {
		msg = "injected failure"
	}

	err := errors.New(msg)
	switch class {
	case "validation":
		return resilience.Validation(err)
	case "permission":
		return resilience.Permission(err)
	case "timeout":
		return resilience.MarkClass(err, resilience.ClassTimeout)
	case "rate_limit":
		return resilience.MarkClass(err, resilience.ClassRateLimit)
	default:
		return resilience.Transient(err)
	}
}
