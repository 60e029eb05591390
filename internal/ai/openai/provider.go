// Package openai implements models.SuggestionProvider with the official
// OpenAI Go SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kiranshivaraju/ropasuggest/internal/ai"
	"github.com/kiranshivaraju/ropasuggest/internal/config"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/time/rate"
)

const providerName = "openai"

// Provider implements models.SuggestionProvider using OpenAI chat completions.
type Provider struct {
	client      openai.Client
	model       string
	maxTokens   int
	temperature float64
	limiter     *rate.Limiter
}

// Options carries settings that do not come from config.OpenAIConfig.
type Options struct {
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// RequestsPerSecond throttles calls across all workers in the process.
	RequestsPerSecond float64
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

func NewProvider(cfg config.OpenAIConfig, opts Options) *Provider {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	// Retries belong to the job dispatcher, not the SDK.
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Provider{
		client:      openai.NewClient(reqOpts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		limiter:     rate.NewLimiter(rate.Limit(rps), 1),
	}
}

func (p *Provider) Name() string { return providerName }

func (p *Provider) Suggest(ctx context.Context, req models.SuggestionRequest) (models.SuggestionResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return models.SuggestionResult{}, fmt.Errorf("%w: waiting for rate limiter: %v", ai.ErrInferenceTimeout, err)
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(ai.SystemPrompt()),
			openai.UserMessage(ai.BuildPrompt(req)),
		},
		Temperature:         openai.Float(p.temperature),
		MaxCompletionTokens: openai.Int(int64(p.maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.SuggestionResult{}, mapError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return models.SuggestionResult{}, fmt.Errorf("%w: no choices returned", ai.ErrInvalidResponse)
	}

	parsed, err := ai.ParseResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return models.SuggestionResult{}, err
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	promptTokens := int(resp.Usage.PromptTokens)
	completionTokens := int(resp.Usage.CompletionTokens)

	return models.SuggestionResult{
		GeneralStatement: parsed.GeneralStatement,
		Suggestions:      parsed.Suggestions,
		Provider:         providerName,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      int(resp.Usage.TotalTokens),
		CostUSD:          ai.Cost(model, promptTokens, completionTokens),
	}, nil
}

// mapError classifies SDK and transport failures into ai sentinel errors.
func mapError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ai.ErrInferenceTimeout, err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ai.ErrRateLimited, apiErr.Message)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: status %d", ai.ErrInferenceTimeout, apiErr.StatusCode)
		default:
			return fmt.Errorf("%w: status %d: %s", ai.ErrProviderUnavailable, apiErr.StatusCode, apiErr.Message)
		}
	}

	return fmt.Errorf("%w: %v", ai.ErrProviderUnavailable, err)
}

var _ models.SuggestionProvider = (*Provider)(nil)
