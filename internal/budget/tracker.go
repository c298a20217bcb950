// Package budget implements the Budget Tracker: balance/spend
// accounting, a short-TTL per-(principal,project) status cache, and
// fail-closed sufficiency checks.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/money"
	"github.com/agentwarden/gateway/internal/types"
)

// Store is the narrow upstream capability the Tracker consumes.
type Store interface {
	GetBudgetStatus(ctx context.Context, principalID, projectID string) (types.BudgetStatus, error)
}

type cacheEntry struct {
	status    types.BudgetStatus
	fetchedAt time.Time
}

// Tracker is the Budget Tracker.
type Tracker struct {
	mu     sync.RWMutex
	cache  map[string]cacheEntry
	ttl    time.Duration
	store  Store
	logger *slog.Logger
}

// NewTracker builds a Tracker with the given cache TTL (spec default 30s).
func NewTracker(store Store, ttl time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cache:  make(map[string]cacheEntry),
		ttl:    ttl,
		store:  store,
		logger: logger.With("component", "budget.Tracker"),
	}
}

func cacheKey(principalID, projectID string) string { return principalID + ":" + projectID }

// Status returns the budget status for (principal, project), using the
// cache unless useCache is false or the entry is stale.
func (t *Tracker) Status(ctx context.Context, principalID, projectID string, useCache bool) (types.BudgetStatus, error) {
	key := cacheKey(principalID, projectID)

	if useCache {
		t.mu.RLock()
		entry, ok := t.cache[key]
		t.mu.RUnlock()
		if ok && time.Since(entry.fetchedAt) < t.ttl {
			return entry.status, nil
		}
	}

	status, err := t.store.GetBudgetStatus(ctx, principalID, projectID)
	if err != nil {
		return types.BudgetStatus{}, fmt.Errorf("budget: fetch status for %s: %w", key, err)
	}
	status = status.DeriveFlags()
	status.FetchedAt = time.Now().UTC()

	t.mu.Lock()
	t.cache[key] = cacheEntry{status: status, fetchedAt: status.FetchedAt}
	t.mu.Unlock()

	return status, nil
}

// AvailableBalance is a convenience wrapper around Status.
func (t *Tracker) AvailableBalance(ctx context.Context, principalID, projectID string) (float64, error) {
	s, err := t.Status(ctx, principalID, projectID, true)
	if err != nil {
		return 0, err
	}
	return s.AvailableBalance, nil
}

// CheckSufficient applies the projection rule: amount must not exceed
// available balance, per-request limit, or remaining daily/monthly
// limits. Any lookup error fails closed (sufficient=false).
func (t *Tracker) CheckSufficient(ctx context.Context, principalID, projectID string, amount float64) types.BudgetCheck {
	status, err := t.Status(ctx, principalID, projectID, true)
	if err != nil {
		t.logger.Error("budget check failed closed", "error", err, "principal_id", principalID, "project_id", projectID)
		return types.BudgetCheck{
			Sufficient: false,
			Required:   amount,
			Message:    fmt.Sprintf("budget check error: %v", err),
		}
	}

	need := money.FromFloat(amount)

	if need.GreaterThan(money.FromFloat(status.AvailableBalance)) {
		return types.BudgetCheck{
			Sufficient:       false,
			AvailableBalance: status.AvailableBalance,
			Required:         amount,
			Message: fmt.Sprintf("insufficient budget: $%.2f available, $%.2f required",
				status.AvailableBalance, amount),
		}
	}
	if status.PerRequestLimit != nil && need.GreaterThan(money.FromFloat(*status.PerRequestLimit)) {
		return types.BudgetCheck{
			Sufficient:       false,
			AvailableBalance: status.AvailableBalance,
			Required:         amount,
			Message:          fmt.Sprintf("amount $%.2f exceeds per-request limit $%.2f", amount, *status.PerRequestLimit),
		}
	}
	if status.DailyLimit != nil && money.FromFloat(status.SpentToday).Add(need).GreaterThan(money.FromFloat(*status.DailyLimit)) {
		return types.BudgetCheck{
			Sufficient:       false,
			AvailableBalance: status.AvailableBalance,
			Required:         amount,
			Message:          "daily limit would be exceeded",
		}
	}
	if status.MonthlyLimit != nil && money.FromFloat(status.SpentMonth).Add(need).GreaterThan(money.FromFloat(*status.MonthlyLimit)) {
		return types.BudgetCheck{
			Sufficient:       false,
			AvailableBalance: status.AvailableBalance,
			Required:         amount,
			Message:          "monthly limit would be exceeded",
		}
	}

	return types.BudgetCheck{Sufficient: true, AvailableBalance: status.AvailableBalance, Required: amount}
}

// ClearCache purges the cached status for (principal, project), or the
// entire cache when both are empty.
func (t *Tracker) ClearCache(principalID, projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if principalID == "" && projectID == "" {
		t.cache = make(map[string]cacheEntry)
		return
	}
	delete(t.cache, cacheKey(principalID, projectID))
}
