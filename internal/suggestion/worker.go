package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/internal/cache"
	"github.com/kiranshivaraju/ropasuggest/internal/fieldmeta"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	"github.com/kiranshivaraju/ropasuggest/pkg/normalize"
)

const (
	maxErrorMessageBytes = 1000
	maxStatementBytes    = 4000
)

// Worker runs the suggestion pipeline for a single delivery of a job id.
type Worker struct {
	jobs     store.JobStore
	provider models.SuggestionProvider
	fields   *fieldmeta.Registry
	cache    cache.Cache
	timeout  time.Duration
}

// NewWorker creates a new Worker. fields may be nil, in which case prompts
// carry no static field guidance.
func NewWorker(jobs store.JobStore, provider models.SuggestionProvider, fields *fieldmeta.Registry, c cache.Cache, timeout time.Duration) *Worker {
	return &Worker{
		jobs:     jobs,
		provider: provider,
		fields:   fields,
		cache:    c,
		timeout:  timeout,
	}
}

// Process handles one delivery. final reports that no further delivery of
// jobID will follow if this one fails; only then, or for a non-retryable
// error, is the job recorded as failed. Deliveries for unknown or already
// terminal jobs are dropped.
func (w *Worker) Process(ctx context.Context, jobID string, attempt int, final bool) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		slog.Error("dropping delivery with malformed job id", "job_id", jobID)
		return &ValidationError{Field: "job_id", Message: fmt.Sprintf("malformed job id %q", jobID)}
	}

	job, err := w.jobs.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("dropping delivery for unknown job", "job_id", id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if models.IsTerminalStatus(job.Status) {
		slog.Info("skipping delivery for finished job", "job_id", id, "status", job.Status)
		return nil
	}

	job, err = w.jobs.MarkProcessing(ctx, id)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if job.Status != models.JobStatusProcessing {
		slog.Info("job finished concurrently", "job_id", id, "status", job.Status)
		return nil
	}
	w.setStatus(ctx, job, models.JobStatusProcessing)

	log := slog.With("job_id", id, "tenant_id", job.TenantID,
		"entity_type", job.EntityType, "field_name", job.FieldName, "attempt", attempt)

	result, err := w.run(ctx, job)
	if err != nil {
		if final || !Retryable(err) {
			log.Error("suggestion job failed", "error", err)
			w.fail(context.WithoutCancel(ctx), job, err)
		} else {
			log.Warn("suggestion attempt failed", "error", err)
		}
		return err
	}

	done, err := w.jobs.CompleteJob(ctx, id, result)
	if errors.Is(err, store.ErrInvalidTransition) {
		log.Info("job finished concurrently", "error", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	w.setStatus(ctx, done, models.JobStatusCompleted)
	log.Info("suggestion job completed",
		"provider", result.Provider, "model", result.Model,
		"suggestions", len(result.Suggestions), "tokens_used", result.TokensUsed)
	return nil
}

// run calls the provider and normalizes its output. It recovers from panics
// so a misbehaving provider cannot take down the worker pool.
func (w *Worker) run(ctx context.Context, job *models.SuggestionJob) (result models.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in suggestion pipeline", "error", r, "job_id", job.ID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	res, err := w.provider.Suggest(callCtx, w.request(job))
	if err != nil {
		return models.JobResult{}, err
	}

	provider := res.Provider
	if provider == "" {
		provider = w.provider.Name()
	}
	total := res.TotalTokens
	if total == 0 {
		total = res.PromptTokens + res.CompletionTokens
	}
	return models.JobResult{
		GeneralStatement: truncateString(res.GeneralStatement, maxStatementBytes),
		Suggestions:      normalize.Suggestions(job.FieldType, res.Suggestions),
		Provider:         provider,
		Model:            res.Model,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
		TokensUsed:       total,
		CostUSD:          res.CostUSD,
	}, nil
}

// request rebuilds the prompt payload from the job's stored input.
func (w *Worker) request(job *models.SuggestionJob) models.SuggestionRequest {
	req := models.SuggestionRequest{
		EntityType:   job.EntityType,
		FieldName:    job.FieldName,
		FieldType:    job.FieldType,
		FieldLabel:   job.FieldLabel,
		CurrentValue: job.Input.CurrentValue,
		FormData:     job.Input.FormData,
		Options:      job.Input.FieldOptions,
		Context:      job.Input.Context,
	}
	if meta, ok := w.fields.Lookup(job.EntityType, job.FieldName); ok {
		req.Metadata = meta
	}
	return req
}

func (w *Worker) fail(ctx context.Context, job *models.SuggestionJob, cause error) {
	msg := truncateString(cause.Error(), maxErrorMessageBytes)
	failed, err := w.jobs.FailJob(ctx, job.ID, msg)
	if err != nil {
		slog.Error("failed to record job failure", "job_id", job.ID, "error", err)
		return
	}
	w.setStatus(ctx, failed, models.JobStatusFailed)
}

func (w *Worker) setStatus(ctx context.Context, job *models.SuggestionJob, status string) {
	if err := w.cache.SetJobStatus(ctx, job.TenantID, job.ID, status, cache.JobStatusTTL); err != nil {
		slog.Warn("job status cache write failed", "job_id", job.ID, "error", err)
	}
}
