package pricing

import (
	"math"
	"sort"

	"github.com/agentwarden/gateway/internal/money"
	"github.com/agentwarden/gateway/internal/types"
)

const defaultPlatformFeePercent = 5.0

// Engine is the Pricing Engine: token-to-cost conversion, variance
// detection, and provider/model comparison.
type Engine struct {
	table             *Table
	platformFeePercent float64
}

// NewEngine builds a pricing Engine over the given Table.
func NewEngine(table *Table, platformFeePercent float64) *Engine {
	if platformFeePercent <= 0 {
		platformFeePercent = defaultPlatformFeePercent
	}
	return &Engine{table: table, platformFeePercent: platformFeePercent}
}

// Pricing returns the pricing in effect for (provider, model).
func (e *Engine) Pricing(provider, model string) types.Pricing {
	return e.table.Get(provider, model)
}

// RefreshPricing overrides the table's entry for p's (provider, model),
// used when a caller has a fresher quote than the built-in defaults.
func (e *Engine) RefreshPricing(p types.Pricing) {
	e.table.Put(p)
}

// EstimateTokens falls back to a char-count heuristic when no precise
// tokenizer is available: tokens ≈ ceil(chars/4) * 1.1, confidence 0.8.
func EstimateTokens(text string) types.TokenEstimate {
	if len(text) == 0 {
		return types.TokenEstimate{Tokens: 0, Confidence: 0.8, Method: "char_count"}
	}
	chars := len(text)
	tokens := int(math.Ceil(float64(chars)/4.0) * 1.1)
	return types.TokenEstimate{Tokens: tokens, Confidence: 0.8, Method: "char_count"}
}

// EstimateCostInput bundles the optional inputs estimate_cost accepts.
type EstimateCostInput struct {
	InputTokens          int
	OutputTokens         int
	ExpectedOutputTokens int
	Text                 string
	Chars                int
	Requests             int
	Seconds              float64
}

// EstimateCost dispatches on the pricing mode and adds the platform fee.
func (e *Engine) EstimateCost(provider, model string, in EstimateCostInput) types.CostEstimate {
	p := e.table.Get(provider, model)

	inputTokens := in.InputTokens
	tokenConfidence := 1.0
	if inputTokens == 0 && in.Text != "" {
		est := EstimateTokens(in.Text)
		inputTokens = est.Tokens
		tokenConfidence = est.Confidence
	}

	outputTokens := in.OutputTokens
	if outputTokens == 0 {
		if in.ExpectedOutputTokens > 0 {
			outputTokens = in.ExpectedOutputTokens
		} else {
			outputTokens = int(float64(inputTokens) * 0.5)
		}
	}

	var base money.Amount
	switch p.Mode {
	case types.PricingCharBased:
		chars := in.Chars
		if chars == 0 {
			chars = len(in.Text)
		}
		base = money.FromFloat(p.CharRate).MulFloat(float64(chars))
	case types.PricingRequestBased:
		requests := in.Requests
		if requests == 0 {
			requests = 1
		}
		base = money.FromFloat(p.RequestRate).MulFloat(float64(requests))
	case types.PricingTimeBased:
		base = money.FromFloat(p.SecondRate).MulFloat(in.Seconds)
	default: // token-based
		inputCost := money.FromFloat(p.InputRatePer1K).MulFloat(float64(inputTokens) / 1000)
		outputCost := money.FromFloat(p.OutputRatePer1K).MulFloat(float64(outputTokens) / 1000)
		base = inputCost.Add(outputCost)
	}

	fee := base.MulFloat(e.platformFeePercent / 100)
	total := base.Add(fee).Round(6)
	return types.CostEstimate{
		Provider:        provider,
		Model:           model,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		BaseCost:        base.Round(6).Float64(),
		PlatformFee:     fee.Round(6).Float64(),
		TotalCost:       total.Float64(),
		TokenConfidence: tokenConfidence,
	}
}

// DetectAnomaly flags a significant divergence between estimated and
// actual cost, classifying severity at 50/100/200% thresholds.
func DetectAnomaly(requestID, provider, model string, estimated, actual, thresholdPercent float64) *types.CostAnomaly {
	if thresholdPercent <= 0 {
		thresholdPercent = 20.0
	}
	if estimated == 0 {
		return nil
	}
	diffPct := (actual - estimated) / estimated * 100
	if math.Abs(diffPct) < thresholdPercent {
		return nil
	}

	abs := math.Abs(diffPct)
	var severity types.AnomalySeverity
	switch {
	case abs >= 200:
		severity = types.AnomalyCritical
	case abs >= 100:
		severity = types.AnomalyHigh
	case abs >= 50:
		severity = types.AnomalyMedium
	default:
		severity = types.AnomalyLow
	}

	return &types.CostAnomaly{
		RequestID:         requestID,
		Provider:          provider,
		Model:             model,
		Estimated:         estimated,
		Actual:            actual,
		DifferencePercent: diffPct,
		Severity:          severity,
	}
}

// ProviderModel names one candidate in a Compare call.
type ProviderModel struct {
	Provider string
	Model    string
}

// Compare prices the same workload across candidates and returns
// quotes sorted ascending by total cost.
func (e *Engine) Compare(candidates []ProviderModel, inputTokens, outputTokens int) []types.Quote {
	quotes := make([]types.Quote, 0, len(candidates))
	for _, c := range candidates {
		est := e.EstimateCost(c.Provider, c.Model, EstimateCostInput{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		})
		quotes = append(quotes, types.Quote{Provider: c.Provider, Model: c.Model, TotalCost: est.TotalCost})
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].TotalCost < quotes[j].TotalCost })
	return quotes
}
