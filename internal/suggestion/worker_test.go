package suggestion

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/internal/ai"
	"github.com/kiranshivaraju/ropasuggest/internal/ai/mock"
	"github.com/kiranshivaraju/ropasuggest/internal/fieldmeta"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedJob stores a pending job and returns it.
func seedJob(t *testing.T, s *memStore, fieldName string, fieldType models.FieldType) *models.SuggestionJob {
	t.Helper()
	job := &models.SuggestionJob{
		UserID:     uuid.New(),
		TenantID:   uuid.New(),
		EntityType: models.EntityRepository,
		EntityID:   uuid.New(),
		FieldName:  fieldName,
		FieldType:  fieldType,
		Input: models.InputSnapshot{
			FormData:     map[string]any{"data_repository_name": "CRM"},
			FieldOptions: []string{"Germany", "France"},
			Context:      sampleContext(),
		},
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func newTestWorker(t *testing.T, s *memStore, c *memCache, p models.SuggestionProvider) *Worker {
	t.Helper()
	reg, err := fieldmeta.Default()
	require.NoError(t, err)
	return NewWorker(s, p, reg, c, time.Second)
}

func TestProcess_CompletesJob(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "secondary_countries", models.FieldTypeMultiSelect)

	p := &mock.MockProvider{Name_: "openai", SuggestFunc: func(_ context.Context, _ models.SuggestionRequest) (models.SuggestionResult, error) {
		return models.SuggestionResult{
			GeneralStatement: "EU footprint",
			Suggestions:      []any{"Germany, France", "Spain"},
			Model:            "gpt-4o-mini",
			PromptTokens:     1000,
			CompletionTokens: 200,
			CostUSD:          0.00027,
		}, nil
	}}
	w := newTestWorker(t, s, c, p)

	require.NoError(t, w.Process(context.Background(), job.ID.String(), 1, false))

	got := s.get(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, []any{"Germany", "France", "Spain"}, got.Suggestions)
	require.NotNil(t, got.GeneralStatement)
	assert.Equal(t, "EU footprint", *got.GeneralStatement)
	assert.Equal(t, "openai", *got.Provider, "provider falls back to Name()")
	assert.Equal(t, "gpt-4o-mini", *got.Model)
	assert.Equal(t, 1200, *got.TokensUsed, "total falls back to prompt + completion")
	assert.InDelta(t, 0.00027, *got.CostUSD, 1e-12)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, models.JobStatusCompleted, c.status(job.TenantID, job.ID))
}

func TestProcess_SingleValueCollapsed(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	w := newTestWorker(t, s, c, mock.NewStaticProvider(`{"suggestions": ["active", "inactive", "archived"]}`))

	require.NoError(t, w.Process(context.Background(), job.ID.String(), 1, false))
	assert.Equal(t, []any{"active"}, s.get(job.ID).Suggestions)
}

func TestProcess_EmptySingleValue(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "comments", models.FieldTypeText)
	w := newTestWorker(t, s, c, mock.NewStaticProvider(`{"general_statement": "nothing to add", "suggestions": []}`))

	require.NoError(t, w.Process(context.Background(), job.ID.String(), 1, false))
	assert.Equal(t, []any{""}, s.get(job.ID).Suggestions)
}

func TestProcess_BuildsRequestFromSnapshot(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "secondary_countries", models.FieldTypeMultiSelect)

	var got models.SuggestionRequest
	p := &mock.MockProvider{Name_: "mock", SuggestFunc: func(_ context.Context, req models.SuggestionRequest) (models.SuggestionResult, error) {
		got = req
		return models.SuggestionResult{Suggestions: []any{"Germany"}}, nil
	}}
	w := newTestWorker(t, s, c, p)

	require.NoError(t, w.Process(context.Background(), job.ID.String(), 1, false))

	assert.Equal(t, models.EntityRepository, got.EntityType)
	assert.Equal(t, "secondary_countries", got.FieldName)
	assert.Equal(t, []string{"Germany", "France"}, got.Options)
	assert.Equal(t, "CRM", got.FormData["data_repository_name"])
	require.Len(t, got.Context.Ancestors, 1)
	require.NotNil(t, got.Metadata, "static field guidance is attached")
	assert.Equal(t, "multiselect", got.Metadata.FieldType)
}

func TestProcess_UnknownFieldHasNoMetadata(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "custom_field_42", models.FieldTypeText)

	var got models.SuggestionRequest
	p := &mock.MockProvider{Name_: "mock", SuggestFunc: func(_ context.Context, req models.SuggestionRequest) (models.SuggestionResult, error) {
		got = req
		return models.SuggestionResult{Suggestions: []any{"x"}}, nil
	}}

	w := NewWorker(s, p, nil, c, time.Second)
	require.NoError(t, w.Process(context.Background(), job.ID.String(), 1, false))
	assert.Nil(t, got.Metadata)
}

func TestProcess_MalformedJobID(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	w := newTestWorker(t, s, c, mock.NewMockProvider())

	err := w.Process(context.Background(), "not-a-uuid", 1, false)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.False(t, Retryable(err))
}

func TestProcess_UnknownJobDropped(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	var calls atomic.Int32
	p := &mock.MockProvider{Name_: "mock", SuggestFunc: func(context.Context, models.SuggestionRequest) (models.SuggestionResult, error) {
		calls.Add(1)
		return models.SuggestionResult{}, nil
	}}
	w := newTestWorker(t, s, c, p)

	assert.NoError(t, w.Process(context.Background(), uuid.NewString(), 1, false))
	assert.Zero(t, calls.Load())
}

func TestProcess_StoreErrorIsRetryable(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	s.getErr = errors.New("connection refused")
	w := newTestWorker(t, s, c, mock.NewMockProvider())

	err := w.Process(context.Background(), job.ID.String(), 1, false)
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestProcess_TerminalJobsStayClosed(t *testing.T) {
	for _, terminal := range []string{models.JobStatusCompleted, models.JobStatusFailed} {
		t.Run(terminal, func(t *testing.T) {
			s, c := newMemStore(), newMemCache()
			ctx := context.Background()
			job := seedJob(t, s, "status", models.FieldTypeEnum)
			_, err := s.MarkProcessing(ctx, job.ID)
			require.NoError(t, err)
			if terminal == models.JobStatusCompleted {
				_, err = s.CompleteJob(ctx, job.ID, models.JobResult{Suggestions: []any{"active"}})
			} else {
				_, err = s.FailJob(ctx, job.ID, "boom")
			}
			require.NoError(t, err)
			before := s.get(job.ID)

			var calls atomic.Int32
			p := &mock.MockProvider{Name_: "mock", SuggestFunc: func(context.Context, models.SuggestionRequest) (models.SuggestionResult, error) {
				calls.Add(1)
				return models.SuggestionResult{}, errors.New("should not run")
			}}
			w := newTestWorker(t, s, c, p)

			for _, final := range []bool{false, true} {
				assert.NoError(t, w.Process(ctx, job.ID.String(), 1, final))
			}
			assert.Zero(t, calls.Load())
			assert.Equal(t, before, s.get(job.ID))
		})
	}
}

func TestProcess_RedeliveryWhileProcessingProceeds(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	_, err := s.MarkProcessing(context.Background(), job.ID)
	require.NoError(t, err)

	w := newTestWorker(t, s, c, mock.NewMockProvider())
	require.NoError(t, w.Process(context.Background(), job.ID.String(), 2, false))
	assert.Equal(t, models.JobStatusCompleted, s.get(job.ID).Status)
}

func TestProcess_IntermediateFailureKeepsJobOpen(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	w := newTestWorker(t, s, c, mock.NewFailingProvider(ai.ErrProviderUnavailable))

	err := w.Process(context.Background(), job.ID.String(), 1, false)
	assert.ErrorIs(t, err, ai.ErrProviderUnavailable)

	got := s.get(job.ID)
	assert.Equal(t, models.JobStatusProcessing, got.Status)
	assert.Nil(t, got.ErrorMessage)
	assert.Zero(t, s.failCalls)
}

func TestProcess_FinalFailureRecordsError(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	w := newTestWorker(t, s, c, mock.NewFailingProvider(ai.ErrRateLimited))

	err := w.Process(context.Background(), job.ID.String(), 3, true)
	assert.ErrorIs(t, err, ai.ErrRateLimited)

	got := s.get(job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, ai.ErrRateLimited.Error(), *got.ErrorMessage)
	assert.Equal(t, models.JobStatusFailed, c.status(job.TenantID, job.ID))
}

func TestProcess_NonRetryableFailsImmediately(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	w := newTestWorker(t, s, c, mock.NewFailingProvider(&ValidationError{Field: "field_type", Message: "unsupported"}))

	err := w.Process(context.Background(), job.ID.String(), 1, false)
	assert.True(t, IsValidation(err))
	assert.Equal(t, models.JobStatusFailed, s.get(job.ID).Status)
}

func TestProcess_ErrorMessageTruncated(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	long := errors.New(strings.Repeat("é", 800))
	w := newTestWorker(t, s, c, mock.NewFailingProvider(long))

	_ = w.Process(context.Background(), job.ID.String(), 1, true)

	msg := *s.get(job.ID).ErrorMessage
	assert.LessOrEqual(t, len(msg), maxErrorMessageBytes)
	assert.True(t, strings.HasPrefix(long.Error(), msg))
}

func TestProcess_ProviderTimeoutBounded(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	reg, err := fieldmeta.Default()
	require.NoError(t, err)
	w := NewWorker(s, mock.NewTimeoutProvider(), reg, c, 20*time.Millisecond)

	start := time.Now()
	err = w.Process(context.Background(), job.ID.String(), 1, true)
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, models.JobStatusFailed, s.get(job.ID).Status)
}

func TestProcess_RecoversFromPanic(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	p := &mock.MockProvider{Name_: "mock", SuggestFunc: func(context.Context, models.SuggestionRequest) (models.SuggestionResult, error) {
		panic("nil map write")
	}}
	w := newTestWorker(t, s, c, p)

	var err error
	assert.NotPanics(t, func() {
		err = w.Process(context.Background(), job.ID.String(), 1, true)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: nil map write")
	assert.Equal(t, models.JobStatusFailed, s.get(job.ID).Status)
}

func TestProcess_CacheFailureIgnored(t *testing.T) {
	s, c := newMemStore(), newMemCache()
	c.err = errors.New("redis down")
	job := seedJob(t, s, "status", models.FieldTypeEnum)
	w := newTestWorker(t, s, c, mock.NewMockProvider())

	require.NoError(t, w.Process(context.Background(), job.ID.String(), 1, false))
	assert.Equal(t, models.JobStatusCompleted, s.get(job.ID).Status)
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "hello", truncateString("hello", 10))
	assert.Equal(t, "hel", truncateString("hello", 3))
	// "é" is two bytes; a cut inside it backs off to the rune start.
	assert.Equal(t, "é", truncateString("éé", 3))
	assert.Equal(t, "", truncateString("é", 1))
}
