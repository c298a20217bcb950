package engine

import (
	"context"

	"github.com/agentwarden/gateway/internal/refstore"
	"github.com/agentwarden/gateway/internal/types"
)

// userPolicyStore adapts refstore.UpstreamStore to policy.UserStore:
// the reference store only ever returns a policy embedded in the
// principal's full context.
type userPolicyStore struct {
	store refstore.UpstreamStore
}

func (s userPolicyStore) LoadUserPolicy(ctx context.Context, principalID, projectID string) (types.UserPolicy, error) {
	pc, err := s.store.LoadPrincipalContext(ctx, principalID, projectID)
	if err != nil {
		return types.UserPolicy{}, err
	}
	return pc.Policy, nil
}

// budgetStore adapts refstore.UpstreamStore to budget.Store. The
// reference store has no notion of a ledger balance beyond the
// policy's own limits, so available balance is derived as
// limit-minus-spent rather than fetched from a separate account API.
type budgetStore struct {
	store refstore.UpstreamStore
}

func (s budgetStore) GetBudgetStatus(ctx context.Context, principalID, projectID string) (types.BudgetStatus, error) {
	pc, err := s.store.LoadPrincipalContext(ctx, principalID, projectID)
	if err != nil {
		return types.BudgetStatus{}, err
	}

	status := types.BudgetStatus{
		SpentToday: pc.SpentToday,
		SpentMonth: pc.SpentThisMonth,
	}
	if pc.Policy.DailyLimit > 0 {
		limit := pc.Policy.DailyLimit
		status.DailyLimit = &limit
	}
	if pc.Policy.MonthlyLimit > 0 {
		limit := pc.Policy.MonthlyLimit
		status.MonthlyLimit = &limit
	}
	if pc.Policy.PerRequestLimit > 0 {
		limit := pc.Policy.PerRequestLimit
		status.PerRequestLimit = &limit
	}

	available := pc.Policy.MonthlyLimit - pc.SpentThisMonth
	if pc.Policy.MonthlyLimit <= 0 {
		available = pc.Policy.DailyLimit - pc.SpentToday
	}
	if available < 0 {
		available = 0
	}
	status.TotalBalance = pc.Policy.MonthlyLimit
	status.AvailableBalance = available
	status.FetchedAt = pc.Policy.UpdatedAt

	return status.DeriveFlags(), nil
}
