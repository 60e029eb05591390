package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, tenant_id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, tenant_id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.ID, key.TenantID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("create api key: %w", ErrConstraint)
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return collectAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND tenant_id = $2 AND deleted_at IS NULL`, id, tenantID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// --- Suggestion Jobs ---

const jobColumns = `id, user_id, tenant_id, entity_type, entity_id, field_name, field_type, field_label, status,
	request_data, general_statement, suggestions, provider, model, prompt_tokens, completion_tokens,
	tokens_used, cost_usd, error_message, created_at, updated_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.SuggestionJob) error {
	now := time.Now().UTC()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = models.JobStatusPending

	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("encode request data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ai_suggestion_jobs (id, user_id, tenant_id, entity_type, entity_id, field_name, field_type,
		   field_label, status, request_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.UserID, job.TenantID, string(job.EntityType), job.EntityID, job.FieldName,
		string(job.FieldType), job.FieldLabel, job.Status, input, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("create job: %w: %v", ErrConstraint, err)
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.SuggestionJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ai_suggestion_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) FindPendingForField(ctx context.Context, entityType models.EntityType, entityID uuid.UUID, fieldName string) (*models.SuggestionJob, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM ai_suggestion_jobs
		 WHERE entity_type = $1 AND entity_id = $2 AND field_name = $3 AND status = $4
		 ORDER BY created_at DESC LIMIT 1`,
		string(entityType), entityID, fieldName, models.JobStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find pending job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.SuggestionJob, error) {
	job, err := s.transition(ctx, id, models.JobStatusProcessing, nil)
	if errors.Is(err, ErrInvalidTransition) {
		return job, nil
	}
	return job, err
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, result models.JobResult) (*models.SuggestionJob, error) {
	suggestions := result.Suggestions
	if suggestions == nil {
		suggestions = []any{}
	}
	encoded, err := json.Marshal(suggestions)
	if err != nil {
		return nil, fmt.Errorf("encode suggestions: %w", err)
	}

	return s.transition(ctx, id, models.JobStatusCompleted, []assignment{
		{"general_statement", result.GeneralStatement},
		{"suggestions", encoded},
		{"provider", result.Provider},
		{"model", result.Model},
		{"prompt_tokens", result.PromptTokens},
		{"completion_tokens", result.CompletionTokens},
		{"tokens_used", result.TokensUsed},
		{"cost_usd", result.CostUSD},
		{"error_message", nil},
	})
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, message string) (*models.SuggestionJob, error) {
	return s.transition(ctx, id, models.JobStatusFailed, []assignment{
		{"error_message", message},
	})
}

type assignment struct {
	column string
	value  any
}

// transition moves a job to status to in a single guarded UPDATE. When the
// guard rejects the move, the current record is returned with
// ErrInvalidTransition.
func (s *PostgresStore) transition(ctx context.Context, id uuid.UUID, to string, sets []assignment) (*models.SuggestionJob, error) {
	now := time.Now().UTC()
	query := `UPDATE ai_suggestion_jobs SET status = $2, updated_at = $3`
	args := []any{id, to, now, sourceStatuses(to)}
	argIdx := 5

	if models.IsTerminalStatus(to) {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	for _, a := range sets {
		query += fmt.Sprintf(", %s = $%d", a.column, argIdx)
		args = append(args, a.value)
		argIdx++
	}
	query += " WHERE id = $1 AND status = ANY($4) RETURNING " + jobColumns

	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		current, getErr := s.GetJob(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
	}
	if err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.SuggestionJob, int, error) {
	where, args := jobConditions(filter)

	var total int
	countQuery := "SELECT COUNT(*) FROM ai_suggestion_jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, page := filter.Pagination()
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM ai_suggestion_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.SuggestionJob{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) CostSummary(ctx context.Context, filter JobFilter) (*models.CostSummary, error) {
	filter.Status = models.JobStatusCompleted
	where, args := jobConditions(filter)

	var summary models.CostSummary
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_used), 0), COALESCE(SUM(cost_usd), 0)::float8
		 FROM ai_suggestion_jobs WHERE `+where, args...,
	).Scan(&summary.JobCount, &summary.TotalTokens, &summary.TotalCostUSD)
	if err != nil {
		return nil, fmt.Errorf("cost summary: %w", err)
	}
	return &summary, nil
}

// jobConditions builds a WHERE clause for filter, numbering placeholders from $1.
func jobConditions(filter JobFilter) (string, []any) {
	var conditions []string
	var args []any
	add := func(column string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.TenantID != uuid.Nil {
		add("tenant_id", filter.TenantID)
	}
	if filter.UserID != uuid.Nil {
		add("user_id", filter.UserID)
	}
	if filter.EntityType != "" {
		add("entity_type", string(filter.EntityType))
	}
	if filter.EntityID != uuid.Nil {
		add("entity_id", filter.EntityID)
	}
	if filter.FieldName != "" {
		add("field_name", filter.FieldName)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.SuggestionJob, error) {
	var (
		j           models.SuggestionJob
		entityType  string
		fieldType   string
		requestData []byte
		suggestions []byte
	)
	if err := row.Scan(&j.ID, &j.UserID, &j.TenantID, &entityType, &j.EntityID, &j.FieldName, &fieldType,
		&j.FieldLabel, &j.Status, &requestData, &j.GeneralStatement, &suggestions, &j.Provider, &j.Model,
		&j.PromptTokens, &j.CompletionTokens, &j.TokensUsed, &j.CostUSD, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.EntityType = models.EntityType(entityType)
	j.FieldType = models.FieldType(fieldType)

	if err := json.Unmarshal(requestData, &j.Input); err != nil {
		return nil, fmt.Errorf("decode request data: %w", err)
	}
	if suggestions != nil {
		if err := json.Unmarshal(suggestions, &j.Suggestions); err != nil {
			return nil, fmt.Errorf("decode suggestions: %w", err)
		}
	}
	return &j, nil
}

// isConstraintError reports whether err is an integrity constraint
// violation (SQLSTATE class 23).
func isConstraintError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}
