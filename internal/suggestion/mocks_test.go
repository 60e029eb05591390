package suggestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/internal/cache"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// --- in-memory job store ---

type memStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.SuggestionJob
	createErr error
	getErr    error
	failCalls int
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[uuid.UUID]*models.SuggestionJob)}
}

func cloneJob(j *models.SuggestionJob) *models.SuggestionJob {
	c := *j
	return &c
}

func (s *memStore) CreateJob(_ context.Context, job *models.SuggestionJob) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = models.JobStatusPending
	if _, dup := s.jobs[job.ID]; dup {
		return fmt.Errorf("create job: %w", store.ErrConstraint)
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID) (*models.SuggestionJob, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *memStore) FindPendingForField(_ context.Context, entityType models.EntityType, entityID uuid.UUID, fieldName string) (*models.SuggestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.SuggestionJob
	for _, j := range s.jobs {
		if j.EntityType != entityType || j.EntityID != entityID || j.FieldName != fieldName || j.Status != models.JobStatusPending {
			continue
		}
		if found == nil || j.CreatedAt.After(found.CreatedAt) {
			found = j
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return cloneJob(found), nil
}

func (s *memStore) transition(id uuid.UUID, to string, apply func(*models.SuggestionJob)) (*models.SuggestionJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !store.CanTransition(j.Status, to) {
		return cloneJob(j), fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, to)
	}
	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if models.IsTerminalStatus(to) {
		j.CompletedAt = &now
	}
	if apply != nil {
		apply(j)
	}
	return cloneJob(j), nil
}

func (s *memStore) MarkProcessing(_ context.Context, id uuid.UUID) (*models.SuggestionJob, error) {
	j, err := s.transition(id, models.JobStatusProcessing, nil)
	if errors.Is(err, store.ErrInvalidTransition) {
		return j, nil
	}
	return j, err
}

func (s *memStore) CompleteJob(_ context.Context, id uuid.UUID, r models.JobResult) (*models.SuggestionJob, error) {
	return s.transition(id, models.JobStatusCompleted, func(j *models.SuggestionJob) {
		j.GeneralStatement = &r.GeneralStatement
		j.Suggestions = r.Suggestions
		j.Provider = &r.Provider
		j.Model = &r.Model
		j.PromptTokens = &r.PromptTokens
		j.CompletionTokens = &r.CompletionTokens
		j.TokensUsed = &r.TokensUsed
		j.CostUSD = &r.CostUSD
	})
}

func (s *memStore) FailJob(_ context.Context, id uuid.UUID, message string) (*models.SuggestionJob, error) {
	s.mu.Lock()
	s.failCalls++
	s.mu.Unlock()
	return s.transition(id, models.JobStatusFailed, func(j *models.SuggestionJob) {
		j.ErrorMessage = &message
	})
}

func (s *memStore) ListJobs(_ context.Context, f store.JobFilter) ([]*models.SuggestionJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SuggestionJob
	for _, j := range s.jobs {
		if (f.TenantID == uuid.Nil || j.TenantID == f.TenantID) && (f.Status == "" || j.Status == f.Status) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	total := len(out)
	limit, page := f.Pagination()
	start := (page - 1) * limit
	if start > len(out) {
		start = len(out)
	}
	end := start + limit
	if end > len(out) {
		end = len(out)
	}
	return out[start:end], total, nil
}

func (s *memStore) CostSummary(_ context.Context, f store.JobFilter) (*models.CostSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := &models.CostSummary{}
	for _, j := range s.jobs {
		if j.TenantID != f.TenantID || j.Status != models.JobStatusCompleted {
			continue
		}
		sum.JobCount++
		if j.TokensUsed != nil {
			sum.TotalTokens += *j.TokensUsed
		}
		if j.CostUSD != nil {
			sum.TotalCostUSD += *j.CostUSD
		}
	}
	return sum, nil
}

func (s *memStore) get(id uuid.UUID) *models.SuggestionJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return cloneJob(j)
	}
	return nil
}

var _ store.JobStore = (*memStore)(nil)

// --- in-memory cache ---

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	err     error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]string)}
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) SetJobStatus(_ context.Context, tenantID, jobID uuid.UUID, status string, _ time.Duration) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cache.JobStatusKey(tenantID, jobID)] = status
	return nil
}

func (c *memCache) GetJobStatus(_ context.Context, tenantID, jobID uuid.UUID) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[cache.JobStatusKey(tenantID, jobID)]
	return s, ok, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (c *memCache) status(tenantID, jobID uuid.UUID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[cache.JobStatusKey(tenantID, jobID)]
}

var _ cache.Cache = (*memCache)(nil)

// --- context builder ---

type fakeBuilder struct {
	mu    sync.Mutex
	ctx   models.EntityContext
	err   error
	calls int
}

func (b *fakeBuilder) Build(_ context.Context, _ models.EntityType, _, _ uuid.UUID) (models.EntityContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return models.EntityContext{}, b.err
	}
	return b.ctx, nil
}

func sampleContext() models.EntityContext {
	return models.EntityContext{
		Ancestors: []models.AncestorContext{{
			Kind:   models.EntityRepository,
			ID:     uuid.New(),
			Label:  "Repository",
			Fields: []models.ContextField{{Key: "data_repository_name", Label: "Name", Value: "CRM"}},
		}},
	}
}
