// Package suggestion accepts suggestion requests, persists them as jobs and
// runs the provider pipeline for each queued job.
package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/internal/cache"
	"github.com/kiranshivaraju/ropasuggest/internal/queue"
	"github.com/kiranshivaraju/ropasuggest/internal/ropa"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

const (
	maxFieldNameLen  = 100
	maxFieldLabelLen = 255
)

// ContextBuilder resolves the ancestor context of an entity.
type ContextBuilder interface {
	Build(ctx context.Context, entityType models.EntityType, entityID, tenantID uuid.UUID) (models.EntityContext, error)
}

// SubmitRequest is one caller's ask for suggestions on a form field.
type SubmitRequest struct {
	UserID       uuid.UUID
	TenantID     uuid.UUID
	EntityType   string
	EntityID     uuid.UUID
	FieldName    string
	FieldType    string
	FieldLabel   string
	CurrentValue string
	FormData     map[string]any
	Options      []string
}

type validatedRequest struct {
	entityType models.EntityType
	fieldType  models.FieldType
	fieldName  string
	fieldLabel string
}

func (r SubmitRequest) validate() (validatedRequest, error) {
	var v validatedRequest
	if r.TenantID == uuid.Nil {
		return v, &ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if r.UserID == uuid.Nil {
		return v, &ValidationError{Field: "user_id", Message: "is required"}
	}
	et, ok := models.ParseEntityType(r.EntityType)
	if !ok {
		return v, &ValidationError{Field: "entity_type", Message: fmt.Sprintf("unknown entity type %q", r.EntityType)}
	}
	if r.EntityID == uuid.Nil {
		return v, &ValidationError{Field: "entity_id", Message: "is required"}
	}
	name := strings.TrimSpace(r.FieldName)
	if name == "" {
		return v, &ValidationError{Field: "field_name", Message: "is required"}
	}
	if len(name) > maxFieldNameLen {
		return v, &ValidationError{Field: "field_name", Message: fmt.Sprintf("must be at most %d characters", maxFieldNameLen)}
	}
	ft, ok := models.ParseFieldType(r.FieldType)
	if !ok {
		return v, &ValidationError{Field: "field_type", Message: fmt.Sprintf("unknown field type %q", r.FieldType)}
	}
	label := strings.TrimSpace(r.FieldLabel)
	if len(label) > maxFieldLabelLen {
		return v, &ValidationError{Field: "field_label", Message: fmt.Sprintf("must be at most %d characters", maxFieldLabelLen)}
	}
	return validatedRequest{entityType: et, fieldType: ft, fieldName: name, fieldLabel: label}, nil
}

// Service is the caller-facing side of the pipeline. It never waits on the
// provider.
type Service struct {
	jobs    store.JobStore
	builder ContextBuilder
	queue   queue.Queue
	cache   cache.Cache
}

// NewService creates a new Service.
func NewService(jobs store.JobStore, builder ContextBuilder, q queue.Queue, c cache.Cache) *Service {
	return &Service{jobs: jobs, builder: builder, queue: q, cache: c}
}

// SubmitJob validates req, resolves the entity's ancestor context and queues a
// new pending job. When a pending job already exists for the same entity field
// that job is returned instead and created is false.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (job *models.SuggestionJob, created bool, err error) {
	v, err := req.validate()
	if err != nil {
		return nil, false, err
	}

	entityCtx, err := s.builder.Build(ctx, v.entityType, req.EntityID, req.TenantID)
	if err != nil {
		if errors.Is(err, ropa.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: %s %s: %v", ErrNotFound, v.entityType, req.EntityID, err)
		}
		return nil, false, fmt.Errorf("build context: %w", err)
	}

	existing, err := s.jobs.FindPendingForField(ctx, v.entityType, req.EntityID, v.fieldName)
	if err == nil {
		slog.Info("returning existing pending job",
			"job_id", existing.ID, "tenant_id", req.TenantID,
			"entity_type", v.entityType, "field_name", v.fieldName)
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("find pending job: %w", err)
	}

	formData := req.FormData
	if formData == nil {
		formData = map[string]any{}
	}
	job = &models.SuggestionJob{
		ID:         uuid.New(),
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		EntityType: v.entityType,
		EntityID:   req.EntityID,
		FieldName:  v.fieldName,
		FieldType:  v.fieldType,
		FieldLabel: v.fieldLabel,
		Input: models.InputSnapshot{
			FormData:     formData,
			CurrentValue: req.CurrentValue,
			FieldOptions: req.Options,
			Context:      entityCtx,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.enqueueNew(ctx, job); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// Replay queues a fresh job built from the input snapshot of an existing job
// of the same tenant. The source job is left untouched.
func (s *Service) Replay(ctx context.Context, tenantID, userID, jobID uuid.UUID) (*models.SuggestionJob, bool, error) {
	orig, err := s.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.jobs.FindPendingForField(ctx, orig.EntityType, orig.EntityID, orig.FieldName)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("find pending job: %w", err)
	}

	job := &models.SuggestionJob{
		ID:         uuid.New(),
		UserID:     userID,
		TenantID:   orig.TenantID,
		EntityType: orig.EntityType,
		EntityID:   orig.EntityID,
		FieldName:  orig.FieldName,
		FieldType:  orig.FieldType,
		FieldLabel: orig.FieldLabel,
		Input:      orig.Input,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.enqueueNew(ctx, job); err != nil {
		return nil, false, err
	}
	slog.Info("job replayed", "job_id", job.ID, "source_job_id", orig.ID, "tenant_id", tenantID)
	return job, true, nil
}

// enqueueNew persists job and hands its id to the queue. A job that cannot
// be queued is closed as failed so it never blocks later submissions.
func (s *Service) enqueueNew(ctx context.Context, job *models.SuggestionJob) error {
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	s.setStatus(ctx, job.TenantID, job.ID, models.JobStatusPending)

	if err := s.queue.Enqueue(ctx, job.ID.String()); err != nil {
		slog.Error("failed to enqueue job", "job_id", job.ID, "tenant_id", job.TenantID, "error", err)
		s.abandon(context.WithoutCancel(ctx), job, err)
		return fmt.Errorf("enqueue job: %w", err)
	}

	slog.Info("job submitted",
		"job_id", job.ID, "tenant_id", job.TenantID,
		"entity_type", job.EntityType, "field_name", job.FieldName)
	return nil
}

func (s *Service) abandon(ctx context.Context, job *models.SuggestionJob, cause error) {
	if _, err := s.jobs.MarkProcessing(ctx, job.ID); err != nil {
		slog.Error("failed to abandon job", "job_id", job.ID, "error", err)
		return
	}
	msg := truncateString("enqueue failed: "+cause.Error(), maxErrorMessageBytes)
	if _, err := s.jobs.FailJob(ctx, job.ID, msg); err != nil {
		slog.Error("failed to abandon job", "job_id", job.ID, "error", err)
		return
	}
	s.setStatus(ctx, job.TenantID, job.ID, models.JobStatusFailed)
}

// GetJob returns the job when it belongs to tenantID.
func (s *Service) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.SuggestionJob, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && job.TenantID != tenantID) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Status returns the job's current status, preferring the cache. A miss is
// backfilled only with a terminal status.
func (s *Service) Status(ctx context.Context, tenantID, jobID uuid.UUID) (string, error) {
	status, found, err := s.cache.GetJobStatus(ctx, tenantID, jobID)
	if err != nil {
		slog.Warn("job status cache read failed", "job_id", jobID, "error", err)
	}
	if found {
		return status, nil
	}

	job, err := s.GetJob(ctx, tenantID, jobID)
	if err != nil {
		return "", err
	}
	// An open status read here may already be stale; only final ones are
	// safe to write back over whatever the worker cached meanwhile.
	if models.IsTerminalStatus(job.Status) {
		s.setStatus(ctx, tenantID, jobID, job.Status)
	}
	return job.Status, nil
}

// ListJobs returns one page of the tenant's jobs, newest first, and the total
// number of matches.
func (s *Service) ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.SuggestionJob, int, error) {
	if filter.TenantID == uuid.Nil {
		return nil, 0, &ValidationError{Field: "tenant_id", Message: "is required"}
	}
	jobs, total, err := s.jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// CostSummary aggregates token usage and cost over the tenant's completed jobs.
func (s *Service) CostSummary(ctx context.Context, filter store.JobFilter) (*models.CostSummary, error) {
	if filter.TenantID == uuid.Nil {
		return nil, &ValidationError{Field: "tenant_id", Message: "is required"}
	}
	summary, err := s.jobs.CostSummary(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("cost summary: %w", err)
	}
	return summary, nil
}

func (s *Service) setStatus(ctx context.Context, tenantID, jobID uuid.UUID, status string) {
	if err := s.cache.SetJobStatus(ctx, tenantID, jobID, status, cache.JobStatusTTL); err != nil {
		slog.Warn("job status cache write failed", "job_id", jobID, "error", err)
	}
}
