package budget

import "github.com/agentwarden/gateway/internal/types"

// SpendRecord is one historical charge used to compute analytics; the
// upstream store is responsible for supplying these for a period.
type SpendRecord struct {
	Provider string
	Model    string
	Amount   float64
}

// Analytics aggregates a set of spend records into per-provider/model
// breakdowns and a trend classification, per the Budget Tracker's
// analytics(...) contract.
func Analytics(principalID, projectID string, records []SpendRecord) types.SpendingAnalytics {
	a := types.SpendingAnalytics{
		PrincipalID:  principalID,
		ProjectID:    projectID,
		ByProvider:   make(map[string]float64),
		ByModel:      make(map[string]float64),
		RequestCount: len(records),
	}

	for _, r := range records {
		a.TotalSpent += r.Amount
		a.ByProvider[r.Provider] += r.Amount
		a.ByModel[r.Model] += r.Amount
	}

	a.Trend = trend(records)
	return a
}

// trend compares the average spend of the first half of records against
// the second half: a simple two-window comparison, not a full time
// series regression.
func trend(records []SpendRecord) types.SpendingTrend {
	n := len(records)
	if n < 4 {
		return types.TrendStable
	}

	mid := n / 2
	firstAvg := average(records[:mid])
	secondAvg := average(records[mid:])

	if firstAvg == 0 {
		if secondAvg == 0 {
			return types.TrendStable
		}
		return types.TrendIncreasing
	}

	change := (secondAvg - firstAvg) / firstAvg
	switch {
	case change > 0.5 || change < -0.5:
		return types.TrendVolatile
	case change > 0.15:
		return types.TrendIncreasing
	case change < -0.15:
		return types.TrendDecreasing
	default:
		return types.TrendStable
	}
}

func average(records []SpendRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.Amount
	}
	return sum / float64(len(records))
}
