// Package workflow defines multi-step workflow definitions: a DAG of steps
// with per-step approval gating and resilience settings. Definitions are
// read-only inputs to the execution engine; they come from YAML files or
// the definitions repository.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/approval"
)

var (
	ErrIDRequired       = errors.New("workflow id is required")
	ErrNameRequired     = errors.New("workflow name is required")
	ErrNoSteps          = errors.New("workflow must have at least one step")
	ErrStepIDRequired   = errors.New("step id is required")
	ErrStepNameRequired = errors.New("step name is required")
	ErrDuplicateStepID  = errors.New("duplicate step id")
	ErrDAGCycle         = errors.New("step dependencies contain a cycle")
	ErrDAGInvalidRef    = errors.New("step dependency references unknown step")
	ErrInvalidPolicy    = errors.New("invalid failure policy")
)

// FailurePolicy decides what a failed step does to the rest of the run.
type FailurePolicy string

const (
	// FailFast stops scheduling new steps and fails the execution.
	FailFast FailurePolicy = "fail_fast"
	// ContinueSiblings lets steps without a dependency on the failed one
	// keep running; only the failed step's descendants are skipped.
	ContinueSiblings FailurePolicy = "continue"
)

// RetrySpec is the per-step retry override in a definition. Zero values
// fall back to the engine defaults.
type RetrySpec struct {
	MaxAttempts  int           `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Backoff      string        `json:"backoff,omitempty" yaml:"backoff,omitempty"` // fixed | linear | exponential
	InitialDelay time.Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay     time.Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	JitterFactor float64       `json:"jitter_factor,omitempty" yaml:"jitter_factor,omitempty"`
}

// Step is one unit of work in a workflow definition.
type Step struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	AgentName string `json:"agent,omitempty" yaml:"agent,omitempty"`

	// Operation names the runner action to invoke; empty lets the runner
	// pick its default action.
	Operation string         `json:"operation,omitempty" yaml:"operation,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`

	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	Approval *approval.Config `json:"approval,omitempty" yaml:"approval,omitempty"`
	Retry    *RetrySpec       `json:"retry,omitempty" yaml:"retry,omitempty"`

	// Timeout is the per-attempt deadline; zero uses the engine default.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// FallbackValue, when set, is returned as the step result once the
	// resilience budget is exhausted instead of failing the step.
	FallbackValue any `json:"fallback_value,omitempty" yaml:"fallback_value,omitempty"`
}

// Workflow is a validated DAG of steps.
type Workflow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// MaxParallel bounds concurrently running steps. 0 uses the engine
	// default.
	MaxParallel int `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`

	// OnStepFailure defaults to FailFast.
	OnStepFailure FailurePolicy `json:"on_step_failure,omitempty" yaml:"on_step_failure,omitempty"`

	Steps []Step `json:"steps" yaml:"steps"`

	CreatedAt time.Time `json:"created_at,omitzero" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at,omitzero" yaml:"-"`
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// Validate checks the workflow for structural correctness.
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrIDRequired
	}
	if w.Name == "" {
		return ErrNameRequired
	}
	if len(w.Steps) == 0 {
		return ErrNoSteps
	}

	switch w.OnStepFailure {
	case "", FailFast, ContinueSiblings:
	default:
		return fmt.Errorf("%q: %w", w.OnStepFailure, ErrInvalidPolicy)
	}

	seen := make(map[string]bool, len(w.Steps))
	for i, s := range w.Steps {
		if s.ID == "" {
			return fmt.Errorf("step %d: %w", i, ErrStepIDRequired)
		}
		if s.Name == "" {
			return fmt.Errorf("step %d: %w", i, ErrStepNameRequired)
		}
		if seen[s.ID] {
			return fmt.Errorf("step %q: %w", s.ID, ErrDuplicateStepID)
		}
		seen[s.ID] = true
	}

	return w.validateDAG()
}

// validateDAG checks that step dependencies form a valid DAG using Kahn's
// algorithm.
func (w *Workflow) validateDAG() error {
	index := make(map[string]int, len(w.Steps))
	for i, s := range w.Steps {
		index[s.ID] = i
	}

	n := len(w.Steps)
	inDegree := make([]int, n)
	adj := make([][]int, n)

	for i, s := range w.Steps {
		for _, dep := range s.DependsOn {
			j, ok := index[dep]
			if !ok {
				return fmt.Errorf("step %q depends on %q: %w", s.ID, dep, ErrDAGInvalidRef)
			}
			if j == i {
				return fmt.Errorf("step %q depends on itself: %w", s.ID, ErrDAGCycle)
			}
			adj[j] = append(adj[j], i)
			inDegree[i]++
		}
	}

	queue := make([]int, 0, n)
	for i, d := range inDegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, neighbor := range adj[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				queue = append(queue, neighbor)
			}
		}
	}

	if visited != n {
		return ErrDAGCycle
	}
	return nil
}
