// Package factory builds the configured suggestion provider.
package factory

import (
	"fmt"

	"github.com/kiranshivaraju/ropasuggest/internal/ai/mock"
	"github.com/kiranshivaraju/ropasuggest/internal/ai/openai"
	"github.com/kiranshivaraju/ropasuggest/internal/config"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at startup; the provider is shared by all workers.
func NewProvider(cfg config.AIConfig) (models.SuggestionProvider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI, openai.Options{
			Timeout:           cfg.InferenceTimeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of openai, mock", cfg.Provider)
	}
}
