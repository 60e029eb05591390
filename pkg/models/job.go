package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IsTerminalStatus reports whether status is completed or failed.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// SuggestionJob tracks one AI suggestion request for a single form field.
// The API returns its id on submission; the client polls
// GET /api/v1/suggestions/{job_id} until status is completed or failed.
type SuggestionJob struct {
	ID         uuid.UUID  `db:"id"          json:"id"`
	UserID     uuid.UUID  `db:"user_id"     json:"user_id"`
	TenantID   uuid.UUID  `db:"tenant_id"   json:"tenant_id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   uuid.UUID  `db:"entity_id"   json:"entity_id"`
	FieldName  string     `db:"field_name"  json:"field_name"`
	FieldType  FieldType  `db:"field_type"  json:"field_type"`
	FieldLabel string     `db:"field_label" json:"field_label"`
	Status     string     `db:"status"      json:"status"`

	Input InputSnapshot `db:"request_data" json:"request_data"`

	// Populated only when Status is completed.
	GeneralStatement *string  `db:"general_statement" json:"general_statement,omitempty"`
	Suggestions      []any    `db:"suggestions"       json:"suggestions,omitempty"`
	Provider         *string  `db:"provider"          json:"provider,omitempty"`
	Model            *string  `db:"model"             json:"model,omitempty"`
	PromptTokens     *int     `db:"prompt_tokens"     json:"prompt_tokens,omitempty"`
	CompletionTokens *int     `db:"completion_tokens" json:"completion_tokens,omitempty"`
	TokensUsed       *int     `db:"tokens_used"       json:"tokens_used,omitempty"`
	CostUSD          *float64 `db:"cost_usd"          json:"cost_usd,omitempty"`

	// Populated only when Status is failed.
	ErrorMessage *string `db:"error_message" json:"error_message,omitempty"`

	CreatedAt   time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"   json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// InputSnapshot is everything the worker needs to rebuild the prompt.
// It is stored verbatim with the job for replay and audit.
type InputSnapshot struct {
	FormData     map[string]any `json:"form_data"`
	CurrentValue string         `json:"current_value"`
	FieldOptions []string       `json:"field_options,omitempty"`
	Context      EntityContext  `json:"context"`
}

// JobResult is the output written by a successful worker run.
type JobResult struct {
	GeneralStatement string
	Suggestions      []any
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
	CostUSD          float64
}

// CostSummary aggregates usage over completed jobs.
type CostSummary struct {
	JobCount     int     `json:"job_count"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}
