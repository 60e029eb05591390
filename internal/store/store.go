package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrConstraint        = errors.New("storage constraint violation")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error
	JobStore
	KeyStore
}

// JobStore is the durable record of suggestion jobs and their lifecycle.
type JobStore interface {
	// CreateJob inserts job with status pending, filling ID and timestamps when unset.
	CreateJob(ctx context.Context, job *models.SuggestionJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.SuggestionJob, error)
	// FindPendingForField returns the newest pending job for the (entity, field)
	// tuple, or ErrNotFound.
	FindPendingForField(ctx context.Context, entityType models.EntityType, entityID uuid.UUID, fieldName string) (*models.SuggestionJob, error)
	// MarkProcessing claims a pending job. For any other status it changes
	// nothing and returns the current record.
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.SuggestionJob, error)
	// CompleteJob and FailJob return ErrInvalidTransition, together with the
	// unchanged record, when the job is not processing.
	CompleteJob(ctx context.Context, id uuid.UUID, result models.JobResult) (*models.SuggestionJob, error)
	FailJob(ctx context.Context, id uuid.UUID, message string) (*models.SuggestionJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.SuggestionJob, int, error)
	// CostSummary aggregates completed jobs matching filter. Status and
	// pagination fields of filter are ignored.
	CostSummary(ctx context.Context, filter JobFilter) (*models.CostSummary, error)
}

// KeyStore manages API keys.
type KeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
}

// JobFilter narrows ListJobs and CostSummary. Zero values mean "any".
type JobFilter struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	EntityType models.EntityType
	EntityID   uuid.UUID
	FieldName  string
	Status     string
	Page       int
	Limit      int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Pagination returns the clamped limit and 1-based page for f.
func (f JobFilter) Pagination() (limit, page int) {
	limit = f.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	page = f.Page
	if page <= 0 {
		page = 1
	}
	return limit, page
}

// validTransitions lists, per status, the statuses a job may move to.
// Terminal statuses have no entry.
var validTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

// CanTransition reports whether a job in status from may move to status to.
func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// sourceStatuses returns every status from which to is reachable.
func sourceStatuses(to string) []string {
	var from []string
	for _, s := range []string{models.JobStatusPending, models.JobStatusProcessing, models.JobStatusCompleted, models.JobStatusFailed} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}
