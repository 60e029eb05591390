package mock

import (
	"context"

	"github.com/kiranshivaraju/ropasuggest/internal/ai"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// MockProvider satisfies models.SuggestionProvider for tests and local runs.
type MockProvider struct {
	Name_       string
	SuggestFunc func(ctx context.Context, req models.SuggestionRequest) (models.SuggestionResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Suggest(ctx context.Context, req models.SuggestionRequest) (models.SuggestionResult, error) {
	if m.SuggestFunc != nil {
		return m.SuggestFunc(ctx, req)
	}
	return models.SuggestionResult{Provider: m.Name_}, nil
}

// NewMockProvider returns a MockProvider with deterministic responses shaped
// by the field type.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		SuggestFunc: func(_ context.Context, req models.SuggestionRequest) (models.SuggestionResult, error) {
			suggestions := []any{"Suggested " + req.FieldName}
			if len(req.Options) > 0 {
				suggestions = []any{req.Options[0]}
			}
			if req.FieldType.IsMultiValue() && len(req.Options) > 1 {
				suggestions = []any{req.Options[0], req.Options[1]}
			}
			return models.SuggestionResult{
				GeneralStatement: "Mock suggestion for " + req.FieldName,
				Suggestions:      suggestions,
				Provider:         "mock",
				Model:            "mock-v1",
				PromptTokens:     100,
				CompletionTokens: 20,
				TotalTokens:      120,
			}, nil
		},
	}
}

// NewStaticProvider returns a MockProvider that parses content as if the
// model had returned it.
func NewStaticProvider(content string) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		SuggestFunc: func(_ context.Context, _ models.SuggestionRequest) (models.SuggestionResult, error) {
			parsed, err := ai.ParseResponse(content)
			if err != nil {
				return models.SuggestionResult{}, err
			}
			return models.SuggestionResult{
				GeneralStatement: parsed.GeneralStatement,
				Suggestions:      parsed.Suggestions,
				Provider:         "mock",
				Model:            "mock-v1",
			}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		SuggestFunc: func(_ context.Context, _ models.SuggestionRequest) (models.SuggestionResult, error) {
			return models.SuggestionResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		SuggestFunc: func(ctx context.Context, _ models.SuggestionRequest) (models.SuggestionResult, error) {
			<-ctx.Done()
			return models.SuggestionResult{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements SuggestionProvider.
var _ models.SuggestionProvider = (*MockProvider)(nil)
