package policy

import (
	"fmt"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

// CheckCompliance runs the layered system∧user evaluation of spec §4.2:
// the system layer short-circuits on its first violation; the user
// layer's allow-list checks resolve to at most one violation and then
// every other user-layer check still runs, accumulating violations so
// the caller learns every problem at once.
func (m *Manager) CheckCompliance(req types.Request, principal types.PrincipalContext, system types.SystemPolicy) types.ComplianceResult {
	result := types.ComplianceResult{Compliant: true}
	policy := principal.Policy

	checked := func(name string) { result.PoliciesChecked = append(result.PoliciesChecked, name) }
	violate := func(v types.Violation) {
		result.Compliant = false
		result.Violations = append(result.Violations, v)
	}

	// System layer — critical, short-circuits before the user layer runs.
	checked("system_deny_providers")
	if contains(system.DenyProviders, req.Provider) {
		violate(types.Violation{RejectionType: types.RejectSystemDeny, Severity: types.SeverityCritical,
			Message: fmt.Sprintf("provider %q is denied platform-wide", req.Provider)})
		return result
	}

	checked("system_deny_models")
	if contains(system.DenyModels, req.Model) {
		violate(types.Violation{RejectionType: types.RejectSystemDeny, Severity: types.SeverityCritical,
			Message: fmt.Sprintf("model %q is denied platform-wide", req.Model)})
		return result
	}

	checked("system_abs_per_request_cap")
	if system.AbsPerRequestCap > 0 && req.EstimatedCost > system.AbsPerRequestCap {
		violate(types.Violation{RejectionType: types.RejectSystemDeny, Severity: types.SeverityCritical,
			Message: fmt.Sprintf("estimated cost $%.2f exceeds platform per-request cap $%.2f", req.EstimatedCost, system.AbsPerRequestCap)})
		return result
	}

	checked("system_abs_daily_cap")
	if system.AbsDailyCap > 0 && principal.SpentToday+req.EstimatedCost > system.AbsDailyCap {
		violate(types.Violation{RejectionType: types.RejectSystemDeny, Severity: types.SeverityCritical,
			Message: fmt.Sprintf("projected daily spend $%.2f exceeds platform daily cap $%.2f", principal.SpentToday+req.EstimatedCost, system.AbsDailyCap)})
		return result
	}

	// User layer — allow-list resolves to one violation, then every
	// remaining check still runs.
	checked("allow_list")
	if v := allowListViolation(req, policy); v != nil {
		violate(*v)
	}

	checked("inactive_policy")
	if !policy.IsActive {
		violate(types.Violation{RejectionType: types.RejectInactivePolicy, Severity: types.SeverityCritical,
			Message: "policy is not active"})
	}

	checked("forbidden_providers")
	if contains(policy.ForbiddenProviders, req.Provider) {
		violate(types.Violation{RejectionType: types.RejectForbiddenOperation, Severity: types.SeverityHigh,
			Message: fmt.Sprintf("provider %q is forbidden by policy", req.Provider)})
	}

	checked("forbidden_operations")
	opKey := fmt.Sprintf("%s.%s.%s", req.Provider, req.Model, req.Operation)
	if contains(policy.ForbiddenOperations, opKey) {
		violate(types.Violation{RejectionType: types.RejectForbiddenOperation, Severity: types.SeverityHigh,
			Message: fmt.Sprintf("operation %q is forbidden by policy", opKey)})
	}

	checked("per_request_limit")
	if policy.PerRequestLimit > 0 && req.EstimatedCost > policy.PerRequestLimit {
		violate(types.Violation{RejectionType: types.RejectPerRequestLimit, Severity: types.SeverityHigh,
			Message: fmt.Sprintf("estimated cost $%.2f exceeds per-request limit $%.2f", req.EstimatedCost, policy.PerRequestLimit)})
	}

	checked("rate_limits")
	if v := rateLimitViolation(principal.RateCounters, policy); v != nil {
		violate(*v)
	}

	checked("allowed_hours")
	if len(policy.AllowedHours) > 0 && !containsInt(policy.AllowedHours, req.CreatedAt.UTC().Hour()) {
		violate(types.Violation{RejectionType: types.RejectOutsideAllowedHours, Severity: types.SeverityMedium,
			Message: fmt.Sprintf("hour %d is outside allowed hours", req.CreatedAt.UTC().Hour())})
	}

	checked("allowed_weekdays")
	if len(policy.AllowedWeekdays) > 0 && !containsInt(policy.AllowedWeekdays, mondayZeroWeekday(req.CreatedAt)) {
		violate(types.Violation{RejectionType: types.RejectOutsideAllowedDays, Severity: types.SeverityMedium,
			Message: "weekday is outside allowed weekdays"})
	}

	if len(policy.CustomRules) > 0 && m.cel != nil {
		checked("custom_rules")
		for i, expr := range policy.CustomRules {
			matched, err := m.cel.EvaluateExpr(expr, req, principal)
			if err != nil {
				m.logger.Warn("custom rule evaluation failed, skipping", "rule_index", i, "error", err)
				continue
			}
			if matched {
				violate(types.Violation{RejectionType: types.RejectForbiddenOperation, Severity: types.SeverityLow,
					Message: fmt.Sprintf("custom rule %d matched", i)})
			}
		}
	}

	return result
}

// rateLimitViolation checks the trailing request-count snapshot against
// policy's per-minute/hour/day limits. Spec's rate limits are policy
// predicates, not a distributed throttle, so a limit of 0 means
// unset — it never blocks.
func rateLimitViolation(counters types.RateCounters, policy types.UserPolicy) *types.Violation {
	switch {
	case policy.RateLimitPerMinute > 0 && counters.PerMinute > policy.RateLimitPerMinute:
		return &types.Violation{RejectionType: types.RejectForbiddenOperation, Severity: types.SeverityMedium,
			Message: fmt.Sprintf("%d requests in the last minute exceeds the limit of %d", counters.PerMinute, policy.RateLimitPerMinute)}
	case policy.RateLimitPerHour > 0 && counters.PerHour > policy.RateLimitPerHour:
		return &types.Violation{RejectionType: types.RejectForbiddenOperation, Severity: types.SeverityMedium,
			Message: fmt.Sprintf("%d requests in the last hour exceeds the limit of %d", counters.PerHour, policy.RateLimitPerHour)}
	case policy.RateLimitPerDay > 0 && counters.PerDay > policy.RateLimitPerDay:
		return &types.Violation{RejectionType: types.RejectForbiddenOperation, Severity: types.SeverityMedium,
			Message: fmt.Sprintf("%d requests in the last day exceeds the limit of %d", counters.PerDay, policy.RateLimitPerDay)}
	default:
		return nil
	}
}

// mondayZeroWeekday converts Go's Sunday=0 weekday numbering to the
// spec's Monday=0...Sunday=6 numbering.
func mondayZeroWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// allowListViolation replays the Decision Engine's critical allow-list
// check (spec §4.1 step 3) for inclusion in the compliance audit record.
func allowListViolation(req types.Request, policy types.UserPolicy) *types.Violation {
	if len(policy.AllowedProviders) == 0 {
		return &types.Violation{RejectionType: types.RejectNoProvidersConfigured, Severity: types.SeverityCritical,
			Message: "no providers configured in policy"}
	}
	if !policy.AllowsProvider(req.Provider) {
		return &types.Violation{RejectionType: types.RejectUnauthorizedProvider, Severity: types.SeverityCritical,
			Message: fmt.Sprintf("provider %q is not authorized", req.Provider)}
	}
	models, ok := policy.AllowedModels[req.Provider]
	if !ok || len(models) == 0 {
		return &types.Violation{RejectionType: types.RejectNoModelsConfigured, Severity: types.SeverityCritical,
			Message: fmt.Sprintf("no models configured for provider %q", req.Provider)}
	}
	if !policy.AllowsModel(req.Provider, req.Model) {
		return &types.Violation{RejectionType: types.RejectUnauthorizedModel, Severity: types.SeverityCritical,
			Message: fmt.Sprintf("model %q is not authorized for provider %q", req.Model, req.Provider)}
	}
	return nil
}
