// Package models contains shared data models used across the ropasuggest codebase.
package models

import "context"

// SuggestionProvider is the interface every LLM integration implements.
// Never call a specific provider directly; always inject this interface.
type SuggestionProvider interface {
	// Suggest asks the model for candidate values for one form field.
	// The returned suggestions are raw; cardinality is enforced afterwards.
	Suggest(ctx context.Context, req SuggestionRequest) (SuggestionResult, error)
	// Name returns the provider identifier (e.g., "openai").
	Name() string
}

// SuggestionRequest is the prompt-ready payload rebuilt from a job's input snapshot.
type SuggestionRequest struct {
	EntityType   EntityType
	FieldName    string
	FieldType    FieldType
	FieldLabel   string
	CurrentValue string
	FormData     map[string]any
	Options      []string
	Context      EntityContext
	Metadata     *FieldMetadata // nil when the registry has no entry
}

// SuggestionResult is one provider call's typed outcome.
type SuggestionResult struct {
	GeneralStatement string
	Suggestions      []any
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
}

// FieldMetadata is static prompting guidance for one entity field.
type FieldMetadata struct {
	Description   string         `yaml:"description"`
	FieldType     string         `yaml:"field_type"`
	Examples      []string       `yaml:"examples"`
	Hints         string         `yaml:"ai_hints"`
	AllowedValues []AllowedValue `yaml:"allowed_values"`
}

// AllowedValue documents one permitted value of an enum field.
type AllowedValue struct {
	Value       string `yaml:"value"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
}
