package types

import "time"

// SystemPolicy is the platform-wide rule set, never overridable by a
// user policy and always evaluated first.
type SystemPolicy struct {
	DenyProviders   []string `json:"deny_providers,omitempty"`
	DenyModels      []string `json:"deny_models,omitempty"`
	AbsPerRequestCap float64 `json:"abs_per_request_cap,omitempty"`
	AbsDailyCap      float64 `json:"abs_daily_cap,omitempty"`
	RetentionDays    int     `json:"retention_days"`
}

// UserPolicy is the per-(principal,project) rule set.
type UserPolicy struct {
	PolicyID string `json:"policy_id,omitempty"`

	AllowedProviders    []string            `json:"allowed_providers"`
	AllowedModels       map[string][]string `json:"allowed_models"`
	ForbiddenProviders  []string            `json:"forbidden_providers,omitempty"`
	ForbiddenOperations []string            `json:"forbidden_operations,omitempty"`

	PerRequestLimit float64 `json:"per_request_limit"`
	DailyLimit      float64 `json:"daily_limit"`
	MonthlyLimit    float64 `json:"monthly_limit"`

	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	RateLimitPerHour   int `json:"rate_limit_per_hour"`
	RateLimitPerDay    int `json:"rate_limit_per_day"`

	AllowedHours    []int `json:"allowed_hours,omitempty"`
	AllowedWeekdays []int `json:"allowed_weekdays,omitempty"`

	MaxRiskScore            float64 `json:"max_risk_score"`
	AutoApproveRiskThreshold float64 `json:"auto_approve_risk_threshold"`

	CustomRules []string `json:"custom_rules,omitempty"` // CEL expressions, lowest-priority

	IsActive  bool      `json:"is_active"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AllowsProvider reports whether p is permitted by the closed allow-list.
// An empty AllowedProviders list is deny-all by definition (spec closed
// allow-list invariant), never "unrestricted".
func (p UserPolicy) AllowsProvider(provider string) bool {
	if len(p.AllowedProviders) == 0 {
		return false
	}
	for _, a := range p.AllowedProviders {
		if a == provider {
			return true
		}
	}
	return false
}

// AllowsModel reports whether model is permitted for provider.
func (p UserPolicy) AllowsModel(provider, model string) bool {
	models, ok := p.AllowedModels[provider]
	if !ok || len(models) == 0 {
		return false
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// RejectionType is the stable symbolic reason a request was rejected.
type RejectionType string

const (
	RejectNoProvidersConfigured RejectionType = "NO_PROVIDERS_CONFIGURED"
	RejectUnauthorizedProvider  RejectionType = "UNAUTHORIZED_PROVIDER"
	RejectNoModelsConfigured    RejectionType = "NO_MODELS_CONFIGURED"
	RejectUnauthorizedModel     RejectionType = "UNAUTHORIZED_MODEL"
	RejectInsufficientBudget    RejectionType = "INSUFFICIENT_BUDGET"
	RejectPerRequestLimit       RejectionType = "PER_REQUEST_LIMIT_EXCEEDED"
	RejectSystemDeny            RejectionType = "SYSTEM_DENY"
	RejectInactivePolicy        RejectionType = "INACTIVE_POLICY"
	RejectForbiddenOperation    RejectionType = "FORBIDDEN_OPERATION"
	RejectOutsideAllowedHours   RejectionType = "OUTSIDE_ALLOWED_HOURS"
	RejectOutsideAllowedDays    RejectionType = "OUTSIDE_ALLOWED_DAYS"
	RejectRiskTooHigh           RejectionType = "RISK_TOO_HIGH"
	RejectSystemError           RejectionType = "SYSTEM_ERROR"
)

// Severity is the compliance-violation severity ladder, highest first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Rank returns a comparable integer rank for sorting, higher = more severe.
func (s Severity) Rank() int { return severityRank[s] }

// Violation is a single policy-compliance failure.
type Violation struct {
	RejectionType RejectionType `json:"rejection_type"`
	Severity      Severity      `json:"severity"`
	Message       string        `json:"message"`
}

// ComplianceResult is the outcome of Policy Manager's layered evaluation.
type ComplianceResult struct {
	Compliant       bool        `json:"compliant"`
	PoliciesChecked []string    `json:"policies_checked"`
	Violations      []Violation `json:"violations,omitempty"`
}

// RejectionReason returns the human-readable reason driven by the
// highest-severity violation; ties broken by insertion order.
func (c ComplianceResult) RejectionReason() (Violation, bool) {
	if len(c.Violations) == 0 {
		return Violation{}, false
	}
	best := c.Violations[0]
	for _, v := range c.Violations[1:] {
		if v.Severity.Rank() > best.Severity.Rank() {
			best = v
		}
	}
	return best, true
}

// RateCounters is the trailing request-count snapshot rate-limit checks
// and custom CEL predicates evaluate against: how many requests the
// principal has on record in the trailing minute/hour/day. The request
// being evaluated is not among them.
type RateCounters struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// PrincipalContext is the aggregate fetched once at the start of a
// request's pipeline.
type PrincipalContext struct {
	PrincipalID string `json:"principal_id"`
	ProjectID   string `json:"project_id"`

	AccountStatus string `json:"account_status"` // active, suspended, frozen
	Verified      bool   `json:"verified"`

	SpentToday     float64 `json:"spent_today"`
	SpentThisMonth float64 `json:"spent_this_month"`

	RecentRequestCount  int      `json:"recent_request_count"`
	RecentRejectionCount int     `json:"recent_rejection_count"`
	KnownAgents          []string `json:"known_agents"`
	RateCounters         RateCounters `json:"rate_counters"`

	Policy UserPolicy `json:"policy"`
}

// HasAgent reports whether agentID is among the principal's known agents.
func (c PrincipalContext) HasAgent(agentID string) bool {
	if agentID == "" {
		return true
	}
	return contains(c.KnownAgents, agentID)
}
