package modelkit

import (
	"math"
	"strings"
)

// PriceTable holds per-million-token pricing for known models, used to
// estimate a GenerateOutput's cost when a provider does not report one
// directly.
type PriceTable struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPriceTable is a small set of well-known model prices. It is not
// exhaustive: a model absent from this table (and without a routed
// ModelRecord cost) produces a nil CostUSD rather than a guessed value.
var DefaultPriceTable = map[string]map[string]PriceTable{
	"anthropic": {
		"claude-sonnet-4-20250514": {InputPer1M: 3.0, OutputPer1M: 15.0},
		"claude-opus-4-20250514":   {InputPer1M: 15.0, OutputPer1M: 75.0},
		"claude-3-5-haiku-20241022": {InputPer1M: 1.0, OutputPer1M: 5.0},
	},
}

// ResolvePriceTable finds pricing for provider/model, first by exact match
// then by prefix match against a versioned model ID, so a dated snapshot
// like "claude-sonnet-4-20250514-v2" still resolves against its family.
func ResolvePriceTable(provider, model string) *PriceTable {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return nil
	}
	models, ok := DefaultPriceTable[provider]
	if !ok {
		return nil
	}
	if price, ok := models[model]; ok {
		return &price
	}
	for id, price := range models {
		if strings.HasPrefix(model, id) || strings.HasPrefix(id, model) {
			price := price
			return &price
		}
	}
	return nil
}

// EstimateCostUSD returns a provider call's estimated cost, or nil if no
// price table entry covers provider/model. Callers must preserve a nil
// result rather than substituting zero: zero means "free", nil means
// "unknown".
func EstimateCostUSD(provider, model string, usage Usage) *float64 {
	price := ResolvePriceTable(provider, model)
	if price == nil {
		return nil
	}
	total := (float64(usage.PromptTokens)*price.InputPer1M + float64(usage.CompletionTokens)*price.OutputPer1M) / 1_000_000
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 {
		return nil
	}
	return &total
}
