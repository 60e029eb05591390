package ai

import (
	"log/slog"
	"math"
	"strings"
)

// ModelPrice is USD per one million tokens.
type ModelPrice struct {
	Input  float64
	Output float64
}

var prices = map[string]ModelPrice{
	"gpt-4o-mini":  {Input: 0.15, Output: 0.60},
	"gpt-4o":       {Input: 2.50, Output: 10.00},
	"gpt-4.1":      {Input: 2.00, Output: 8.00},
	"gpt-4.1-mini": {Input: 0.40, Output: 1.60},
	"gpt-4.1-nano": {Input: 0.10, Output: 0.40},
}

// LookupPrice finds the price of model. Dated snapshots such as
// "gpt-4o-mini-2024-07-18" resolve to the longest matching base model.
func LookupPrice(model string) (ModelPrice, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok := prices[model]; ok {
		return p, true
	}
	best := ""
	for name := range prices {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelPrice{}, false
	}
	return prices[best], true
}

// Cost returns the USD cost of one call rounded to 6 decimals. Unknown
// models cost zero.
func Cost(model string, promptTokens, completionTokens int) float64 {
	p, ok := LookupPrice(model)
	if !ok {
		slog.Warn("unknown model, recording zero cost", "model", model)
		return 0
	}
	cost := (float64(promptTokens)*p.Input + float64(completionTokens)*p.Output) / 1_000_000
	return math.Round(cost*1e6) / 1e6
}
