package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/IbIFACE-Tech/paracle-sub000/internal/domain/workflow"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/cache"
	"github.com/IbIFACE-Tech/paracle-sub000/internal/port/repository"
)

// WorkflowService reads workflow definitions through a TTL cache. Cache
// misses and decode failures fall through to the repository; the cache is
// an optimization, never a source of truth.
type WorkflowService struct {
	repo  repository.Workflows
	cache cache.Cache
	ttl   time.Duration
}

// NewWorkflowService creates the definitions reader. cache may be nil to
// read straight from the repository.
func NewWorkflowService(repo repository.Workflows, c cache.Cache, ttl time.Duration) *WorkflowService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WorkflowService{repo: repo, cache: c, ttl: ttl}
}

// Get returns the definition with the given ID.
func (s *WorkflowService) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	key := "workflow:" + id

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var wf workflow.Workflow
			if err := json.Unmarshal(data, &wf); err == nil {
				return &wf, nil
			}
			// Corrupt entry; drop it and fall through.
			_ = s.cache.Delete(ctx, key)
		}
	}

	wf, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(wf); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				slog.Debug("cache workflow", "workflow_id", id, "error", err)
			}
		}
	}
	return wf, nil
}

// List returns all definitions sorted by ID. Listing always hits the
// repository; only point lookups are cached.
func (s *WorkflowService) List(ctx context.Context) ([]workflow.Workflow, error) {
	wfs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(wfs, func(i, j int) bool { return wfs[i].ID < wfs[j].ID })
	return wfs, nil
}

// Invalidate drops the cached entry for id.
func (s *WorkflowService) Invalidate(ctx context.Context, id string) {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "workflow:"+id)
	}
}
