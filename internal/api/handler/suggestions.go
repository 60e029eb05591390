// Package handler implements the HTTP handlers of the suggestion API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/ropasuggest/internal/api/middleware"
	"github.com/kiranshivaraju/ropasuggest/internal/api/response"
	"github.com/kiranshivaraju/ropasuggest/internal/queue"
	"github.com/kiranshivaraju/ropasuggest/internal/ropa"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/internal/suggestion"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// Suggester defines the service operations the handlers depend on.
type Suggester interface {
	SubmitJob(ctx context.Context, req suggestion.SubmitRequest) (*models.SuggestionJob, bool, error)
	GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.SuggestionJob, error)
	Status(ctx context.Context, tenantID, jobID uuid.UUID) (string, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.SuggestionJob, int, error)
	CostSummary(ctx context.Context, filter store.JobFilter) (*models.CostSummary, error)
	Replay(ctx context.Context, tenantID, userID, jobID uuid.UUID) (*models.SuggestionJob, bool, error)
}

type submitRequest struct {
	FieldName    string         `json:"field_name"`
	FieldType    string         `json:"field_type"`
	FieldLabel   string         `json:"field_label"`
	CurrentValue any            `json:"current_value"`
	FormData     map[string]any `json:"form_data"`
	Options      []string       `json:"options"`
}

type submitResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// jobView is the polling representation of a job. The stored input
// snapshot is not exposed.
type jobView struct {
	ID               uuid.UUID         `json:"id"`
	Status           string            `json:"status"`
	UserID           uuid.UUID         `json:"user_id"`
	EntityType       models.EntityType `json:"entity_type"`
	EntityID         uuid.UUID         `json:"entity_id"`
	FieldName        string            `json:"field_name"`
	FieldType        models.FieldType  `json:"field_type"`
	FieldLabel       string            `json:"field_label"`
	GeneralStatement *string           `json:"general_statement"`
	Suggestions      []any             `json:"suggestions"`
	ErrorMessage     *string           `json:"error_message"`
	Provider         *string           `json:"provider"`
	Model            *string           `json:"model"`
	PromptTokens     *int              `json:"prompt_tokens"`
	CompletionTokens *int              `json:"completion_tokens"`
	TokensUsed       *int              `json:"tokens_used"`
	CostUSD          *float64          `json:"cost_usd"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	CompletedAt      *time.Time        `json:"completed_at"`
}

func newJobView(j *models.SuggestionJob) jobView {
	return jobView{
		ID:               j.ID,
		Status:           j.Status,
		UserID:           j.UserID,
		EntityType:       j.EntityType,
		EntityID:         j.EntityID,
		FieldName:        j.FieldName,
		FieldType:        j.FieldType,
		FieldLabel:       j.FieldLabel,
		GeneralStatement: j.GeneralStatement,
		Suggestions:      j.Suggestions,
		ErrorMessage:     j.ErrorMessage,
		Provider:         j.Provider,
		Model:            j.Model,
		PromptTokens:     j.PromptTokens,
		CompletionTokens: j.CompletionTokens,
		TokensUsed:       j.TokensUsed,
		CostUSD:          j.CostUSD,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		CompletedAt:      j.CompletedAt,
	}
}

// NewSubmitHandler returns an http.HandlerFunc for
// POST /api/v1/entities/{entityType}/{entityID}/suggestions.
func NewSubmitHandler(svc Suggester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := caller(w, r)
		if !ok {
			return
		}

		entityID, err := uuid.Parse(chi.URLParam(r, "entityID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "entity_id must be a valid UUID", nil)
			return
		}

		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, created, err := svc.SubmitJob(r.Context(), suggestion.SubmitRequest{
			UserID:       userID,
			TenantID:     tenantID,
			EntityType:   chi.URLParam(r, "entityType"),
			EntityID:     entityID,
			FieldName:    req.FieldName,
			FieldType:    req.FieldType,
			FieldLabel:   req.FieldLabel,
			CurrentValue: models.FormatValue(req.CurrentValue),
			FormData:     req.FormData,
			Options:      req.Options,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		body := submitResponse{JobID: job.ID, Status: job.Status, CreatedAt: job.CreatedAt}
		if created {
			response.Created(w, body)
			return
		}
		response.JSON(w, body)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/suggestions/{jobID}.
func NewGetJobHandler(svc Suggester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := caller(w, r)
		if !ok {
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, err := svc.GetJob(r.Context(), tenantID, jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, newJobView(job))
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for
// GET /api/v1/suggestions/{jobID}/status.
func NewJobStatusHandler(svc Suggester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := caller(w, r)
		if !ok {
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		status, err := svc.Status(r.Context(), tenantID, jobID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, map[string]any{"job_id": jobID, "status": status})
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/suggestions.
func NewListJobsHandler(svc Suggester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := caller(w, r)
		if !ok {
			return
		}

		filter, err := parseFilter(r, tenantID)
		if err != nil {
			writeError(w, err)
			return
		}

		jobs, total, err := svc.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}

		views := make([]jobView, len(jobs))
		for i, j := range jobs {
			views[i] = newJobView(j)
		}
		limit, page := filter.Pagination()
		response.Collection(w, views, response.NewPaginationMeta(page, limit, total))
	}
}

// NewCostSummaryHandler returns an http.HandlerFunc for GET /api/v1/suggestions/costs.
func NewCostSummaryHandler(svc Suggester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := caller(w, r)
		if !ok {
			return
		}

		filter, err := parseFilter(r, tenantID)
		if err != nil {
			writeError(w, err)
			return
		}

		summary, err := svc.CostSummary(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, summary)
	}
}

// NewReplayHandler returns an http.HandlerFunc for
// POST /api/v1/suggestions/{jobID}/replay.
func NewReplayHandler(svc Suggester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, userID, ok := caller(w, r)
		if !ok {
			return
		}
		jobID, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, created, err := svc.Replay(r.Context(), tenantID, userID, jobID)
		if err != nil {
			writeError(w, err)
			return
		}

		body := map[string]any{
			"job_id":        job.ID,
			"status":        job.Status,
			"created_at":    job.CreatedAt,
			"source_job_id": jobID,
		}
		if created {
			response.Accepted(w, body)
			return
		}
		response.JSON(w, body)
	}
}

// caller returns the tenant and user resolved by the auth middleware.
func caller(w http.ResponseWriter, r *http.Request) (tenantID, userID uuid.UUID, ok bool) {
	tenantID, ok = mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
		return uuid.Nil, uuid.Nil, false
	}
	userID, _ = mw.GetUserID(r)
	return tenantID, userID, true
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID format", nil)
		return uuid.Nil, false
	}
	return id, true
}

var validStatuses = map[string]bool{
	models.JobStatusPending:    true,
	models.JobStatusProcessing: true,
	models.JobStatusCompleted:  true,
	models.JobStatusFailed:     true,
}

// parseFilter reads the shared list and cost query parameters.
func parseFilter(r *http.Request, tenantID uuid.UUID) (store.JobFilter, error) {
	q := r.URL.Query()
	f := store.JobFilter{TenantID: tenantID, FieldName: q.Get("field_name")}

	if v := q.Get("entity_type"); v != "" {
		et, ok := models.ParseEntityType(v)
		if !ok {
			return f, &suggestion.ValidationError{Field: "entity_type", Message: "unknown entity type"}
		}
		f.EntityType = et
	}
	for param, dst := range map[string]*uuid.UUID{"entity_id": &f.EntityID, "user_id": &f.UserID} {
		if v := q.Get(param); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, &suggestion.ValidationError{Field: param, Message: "must be a valid UUID"}
			}
			*dst = id
		}
	}
	if v := q.Get("status"); v != "" {
		if !validStatuses[v] {
			return f, &suggestion.ValidationError{Field: "status", Message: "must be one of pending, processing, completed, failed"}
		}
		f.Status = v
	}
	for param, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		if v := q.Get(param); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				return f, &suggestion.ValidationError{Field: param, Message: "must be a positive integer"}
			}
			*dst = n
		}
	}
	return f, nil
}

// writeError maps service errors onto the API error envelope.
func writeError(w http.ResponseWriter, err error) {
	var ve *suggestion.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", ve.Error(),
			map[string]string{"field": ve.Field})
	case errors.Is(err, suggestion.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case ropa.IsUnavailable(err):
		response.Error(w, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE",
			"The entity service is not available", nil)
	case errors.Is(err, queue.ErrQueueFull):
		response.Error(w, http.StatusServiceUnavailable, "QUEUE_FULL",
			"Too many pending suggestion jobs, try again later", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
