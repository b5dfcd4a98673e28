// Package repository defines the port for the workflow definitions source.
// The engine only reads definitions; writes happen through operator tooling
// outside this process.
package repository

import (
	"context"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/workflow"
)

// Workflows is the read-only source of workflow definitions, including
// per-step approval configuration.
type Workflows interface {
	// Get returns the definition with the given ID, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*workflow.Workflow, error)

	// List returns all known definitions.
	List(ctx context.Context) ([]workflow.Workflow, error)
}
