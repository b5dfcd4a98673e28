package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/workflow"
)

// Store implements the workflow definitions repository using PostgreSQL.
// Step lists are stored as a JSONB document; the workflow row carries the
// scalar fields.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Get retrieves the workflow definition with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	const q = `
		SELECT id, name, description, max_parallel, on_step_failure, steps, created_at, updated_at
		FROM workflows
		WHERE id = $1`

	wf, err := scanWorkflow(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get workflow %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return wf, nil
}

// List returns all stored workflow definitions.
func (s *Store) List(ctx context.Context) ([]workflow.Workflow, error) {
	const q = `
		SELECT id, name, description, max_parallel, on_step_failure, steps, created_at, updated_at
		FROM workflows
		ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var result []workflow.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		result = append(result, *wf)
	}
	return result, rows.Err()
}

// Upsert validates and stores a definition, replacing an existing row with
// the same ID. Operator tooling calls this; the engine itself only reads.
func (s *Store) Upsert(ctx context.Context, wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, domain.ErrValidation)
	}

	stepsJSON, err := json.Marshal(wf.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	const q = `
		INSERT INTO workflows (id, name, description, max_parallel, on_step_failure, steps)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    max_parallel = EXCLUDED.max_parallel,
		    on_step_failure = EXCLUDED.on_step_failure,
		    steps = EXCLUDED.steps,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q,
		wf.ID, wf.Name, wf.Description, wf.MaxParallel, string(wf.OnStepFailure), stepsJSON,
	); err != nil {
		return fmt.Errorf("upsert workflow %s: %w", wf.ID, err)
	}
	return nil
}

// Delete removes a definition by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete workflow %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanWorkflow(row pgx.Row) (*workflow.Workflow, error) {
	var (
		wf        workflow.Workflow
		policy    string
		stepsJSON []byte
	)
	if err := row.Scan(
		&wf.ID, &wf.Name, &wf.Description, &wf.MaxParallel, &policy, &stepsJSON,
		&wf.CreatedAt, &wf.UpdatedAt,
	); err != nil {
		return nil, err
	}
	wf.OnStepFailure = workflow.FailurePolicy(policy)
	if err := json.Unmarshal(stepsJSON, &wf.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return &wf, nil
}
