// Package risk implements the Risk Detector: additive scoring of a
// request against a principal's behavioral baseline and context,
// operating read-only over data the caller supplies.
package risk

import (
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

const startScore = 1.0
const maxScore = 10.0

// Input bundles what the detector needs beyond the request itself.
type Input struct {
	RequestID     string
	EstimatedCost float64
	Provider      string
	Model         string
	AgentID       string
	AssessedAt    time.Time

	Context  types.PrincipalContext
	Baseline *types.Baseline // nil when no baseline is available
}

// Detector is the Risk Detector.
type Detector struct{}

// NewDetector builds a Detector. It holds no state: every assessment is
// computed fresh from its Input.
func NewDetector() *Detector { return &Detector{} }

// Assess scores a request, additively stacking factor contributions
// starting from 1.0 and clipping at 10.0.
func (d *Detector) Assess(in Input) types.RiskAssessment {
	score := startScore
	var factors []types.RiskFactorHit

	add := func(hit types.RiskFactorHit) {
		factors = append(factors, hit)
		score += hit.Contribution
	}

	if hit := costAnomaly(in); hit != nil {
		add(*hit)
	}
	if hit := rateAnomaly(in); hit != nil {
		add(*hit)
	}
	if hit := unusualProvider(in); hit != nil {
		add(*hit)
	}
	if hit := unusualModel(in); hit != nil {
		add(*hit)
	}
	if hit := unusualTime(in); hit != nil {
		add(*hit)
	}
	if hit := newAgent(in); hit != nil {
		add(*hit)
	}
	if hit := repeatedRejections(in); hit != nil {
		add(*hit)
	}
	if hit := budgetExhaustion(in); hit != nil {
		add(*hit)
	}

	if score > maxScore {
		score = maxScore
	}

	category := types.CategoryForScore(score)
	assessedAt := in.AssessedAt
	if assessedAt.IsZero() {
		assessedAt = time.Now().UTC()
	}

	return types.RiskAssessment{
		RequestID:         in.RequestID,
		Score:             score,
		Category:          category,
		Factors:           factors,
		IsAnomaly:         len(factors) > 0,
		RecommendedAction: types.RecommendationForCategory(category),
		Confidence:        confidence(in.Baseline),
		AssessedAt:        assessedAt,
	}
}

// confidence mirrors the baseline's own data-sufficiency grading: an
// assessment without a baseline can only lean on absolute thresholds.
func confidence(b *types.Baseline) float64 {
	if b == nil {
		return 0.6
	}
	switch b.Quality().ConfidenceLevel {
	case types.ConfidenceHigh:
		return 0.95
	case types.ConfidenceMedium:
		return 0.85
	case types.ConfidenceLow:
		return 0.7
	default:
		return 0.6
	}
}

func costAnomaly(in Input) *types.RiskFactorHit {
	if in.Baseline == nil || in.Baseline.AverageRequestCost == 0 {
		if in.EstimatedCost > 10.0 {
			return &types.RiskFactorHit{
				Factor:       "high_cost",
				Contribution: 2.0,
				Severity:     "medium",
				Details:      map[string]any{"cost": in.EstimatedCost},
			}
		}
		return nil
	}

	deviation := (in.EstimatedCost - in.Baseline.AverageRequestCost) / in.Baseline.AverageRequestCost
	details := map[string]any{
		"request_cost": in.EstimatedCost,
		"average_cost": in.Baseline.AverageRequestCost,
		"deviation":    deviation,
	}
	switch {
	case deviation > 3.0:
		contribution := deviation
		if contribution > 3.0 {
			contribution = 3.0
		}
		return &types.RiskFactorHit{Factor: "cost_spike", Contribution: contribution, Severity: "high", Details: details}
	case deviation > 2.0:
		return &types.RiskFactorHit{Factor: "cost_spike", Contribution: 1.5, Severity: "medium", Details: details}
	default:
		return nil
	}
}

func rateAnomaly(in Input) *types.RiskFactorHit {
	today := in.Context.RecentRequestCount
	if today <= 100 {
		return nil
	}
	baselinePerDay := 0.0
	if in.Baseline != nil {
		baselinePerDay = in.Baseline.AverageRequestsPerDay
	}
	if in.Baseline == nil || float64(today) > baselinePerDay*3 {
		return &types.RiskFactorHit{
			Factor:       "rate_spike",
			Contribution: 2.0,
			Severity:     "high",
			Details:      map[string]any{"requests_today": today, "average_per_day": baselinePerDay},
		}
	}
	return nil
}

func unusualProvider(in Input) *types.RiskFactorHit {
	if in.Baseline == nil || len(in.Baseline.TypicalProviders) == 0 {
		return nil
	}
	if in.Baseline.HasTypicalProvider(in.Provider) {
		return nil
	}
	return &types.RiskFactorHit{
		Factor:       "unusual_provider",
		Contribution: 1.0,
		Severity:     "low",
		Details:      map[string]any{"requested_provider": in.Provider, "typical_providers": in.Baseline.TypicalProviders},
	}
}

func unusualModel(in Input) *types.RiskFactorHit {
	if in.Baseline == nil || len(in.Baseline.TypicalModels) == 0 {
		return nil
	}
	key := in.Provider + "/" + in.Model
	if in.Baseline.HasTypicalModel(key) {
		return nil
	}
	return &types.RiskFactorHit{
		Factor:       "unusual_model",
		Contribution: 0.5,
		Severity:     "low",
		Details:      map[string]any{"requested_model": key, "typical_models": in.Baseline.TypicalModels},
	}
}

func unusualTime(in Input) *types.RiskFactorHit {
	if in.Baseline == nil || len(in.Baseline.TypicalHours) == 0 {
		return nil
	}
	assessedAt := in.AssessedAt
	if assessedAt.IsZero() {
		assessedAt = time.Now().UTC()
	}
	hour := assessedAt.UTC().Hour()
	if in.Baseline.HasTypicalHour(hour) {
		return nil
	}
	return &types.RiskFactorHit{
		Factor:       "unusual_time",
		Contribution: 0.5,
		Severity:     "low",
		Details:      map[string]any{"current_hour": hour, "typical_hours": in.Baseline.TypicalHours},
	}
}

func newAgent(in Input) *types.RiskFactorHit {
	if in.AgentID == "" || in.Context.HasAgent(in.AgentID) {
		return nil
	}
	return &types.RiskFactorHit{
		Factor:       "new_agent",
		Contribution: 1.5,
		Severity:     "medium",
		Details:      map[string]any{"agent_id": in.AgentID, "known_agents": in.Context.KnownAgents},
	}
}

func repeatedRejections(in Input) *types.RiskFactorHit {
	n := in.Context.RecentRejectionCount
	switch {
	case n >= 5:
		return &types.RiskFactorHit{Factor: "repeated_rejections", Contribution: 2.0, Severity: "high", Details: map[string]any{"recent_rejections": n}}
	case n >= 3:
		return &types.RiskFactorHit{Factor: "repeated_rejections", Contribution: 1.0, Severity: "medium", Details: map[string]any{"recent_rejections": n}}
	default:
		return nil
	}
}

func budgetExhaustion(in Input) *types.RiskFactorHit {
	policy := in.Context.Policy
	if policy.DailyLimit <= 0 {
		return nil
	}
	usedPct := in.Context.SpentToday / policy.DailyLimit * 100
	if usedPct > 90 && in.Context.RecentRequestCount > 50 {
		return &types.RiskFactorHit{
			Factor:       "budget_exhaustion",
			Contribution: 1.5,
			Severity:     "medium",
			Details:      map[string]any{"used_percent": usedPct, "requests_today": in.Context.RecentRequestCount},
		}
	}
	return nil
}
