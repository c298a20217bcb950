package types

import "time"

// BudgetStatus is the point-in-time balance/spend snapshot for a
// (principal, project) pair.
type BudgetStatus struct {
	TotalBalance     float64 `json:"total_balance"`
	AvailableBalance float64 `json:"available_balance"`
	ReservedAmount   float64 `json:"reserved_amount"`
	SpentToday       float64 `json:"spent_today"`
	SpentMonth       float64 `json:"spent_month"`
	SpentTotal       float64 `json:"spent_total"`

	DailyLimit      *float64 `json:"daily_limit,omitempty"`
	MonthlyLimit    *float64 `json:"monthly_limit,omitempty"`
	PerRequestLimit *float64 `json:"per_request_limit,omitempty"`

	DailyLimitReached   bool `json:"daily_limit_reached"`
	MonthlyLimitReached bool `json:"monthly_limit_reached"`
	LowBalanceWarning   bool `json:"low_balance_warning"`

	FetchedAt time.Time `json:"fetched_at"`
}

// DeriveFlags computes the three derived warning flags from the raw
// fields, keeping "derived always equals derivation(raw)" mechanical.
func (b BudgetStatus) DeriveFlags() BudgetStatus {
	if b.DailyLimit != nil {
		b.DailyLimitReached = b.SpentToday >= *b.DailyLimit
	}
	if b.MonthlyLimit != nil {
		b.MonthlyLimitReached = b.SpentMonth >= *b.MonthlyLimit
	}
	if b.TotalBalance > 0 {
		consumed := (b.TotalBalance - b.AvailableBalance) / b.TotalBalance
		b.LowBalanceWarning = consumed >= 0.8
	}
	return b
}

// BudgetCheck is the result of a single-amount sufficiency check.
type BudgetCheck struct {
	Sufficient       bool    `json:"sufficient"`
	AvailableBalance float64 `json:"available_balance"`
	Required         float64 `json:"required"`
	Message          string  `json:"message,omitempty"`
}

// SpendingTrend classifies the direction of recent spend.
type SpendingTrend string

const (
	TrendIncreasing SpendingTrend = "increasing"
	TrendDecreasing SpendingTrend = "decreasing"
	TrendStable     SpendingTrend = "stable"
	TrendVolatile   SpendingTrend = "volatile"
)

// SpendingAnalytics is the supplemented per-provider/model breakdown
// (original_source budgets/spending_monitor.py), surfaced via Budget
// Tracker's analytics(...) contract.
type SpendingAnalytics struct {
	PrincipalID string  `json:"principal_id"`
	ProjectID   string  `json:"project_id"`
	TotalSpent  float64 `json:"total_spent"`
	RequestCount int    `json:"request_count"`

	ByProvider map[string]float64 `json:"by_provider,omitempty"`
	ByModel    map[string]float64 `json:"by_model,omitempty"`

	Trend SpendingTrend `json:"trend"`
}
