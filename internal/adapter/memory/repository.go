// Package memory implements the workflow definitions repository in
// process memory, seeded from YAML files at startup. It backs deployments
// that run without Postgres.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/workflow"
)

// Repository is an in-memory workflow definitions store.
type Repository struct {
	mu  sync.RWMutex
	wfs map[string]workflow.Workflow
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{wfs: make(map[string]workflow.Workflow)}
}

// Seed validates and stores the given definitions, replacing any existing
// definition with the same ID.
func (r *Repository) Seed(wfs []workflow.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, wf := range wfs {
		if err := wf.Validate(); err != nil {
			return fmt.Errorf("workflow %q: %w", wf.ID, err)
		}
		r.wfs[wf.ID] = wf
	}
	return nil
}

// Get returns the definition with the given ID.
func (r *Repository) Get(_ context.Context, id string) (*workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.wfs[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	out := wf
	return &out, nil
}

// List returns all stored definitions.
func (r *Repository) List(_ context.Context) ([]workflow.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]workflow.Workflow, 0, len(r.wfs))
	for _, wf := range r.wfs {
		out = append(out, wf)
	}
	return out, nil
}
