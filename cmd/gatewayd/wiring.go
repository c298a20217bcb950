package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentwarden/gateway/internal/adjudicator"
	"github.com/agentwarden/gateway/internal/alert"
	"github.com/agentwarden/gateway/internal/approval"
	"github.com/agentwarden/gateway/internal/audit"
	"github.com/agentwarden/gateway/internal/baseline"
	"github.com/agentwarden/gateway/internal/budget"
	"github.com/agentwarden/gateway/internal/config"
	"github.com/agentwarden/gateway/internal/engine"
	"github.com/agentwarden/gateway/internal/guard"
	"github.com/agentwarden/gateway/internal/payment"
	"github.com/agentwarden/gateway/internal/policy"
	"github.com/agentwarden/gateway/internal/pricing"
	"github.com/agentwarden/gateway/internal/refstore"
	"github.com/agentwarden/gateway/internal/risk"
	"github.com/agentwarden/gateway/internal/types"
)

// userPolicyStore and budgetStore adapt refstore.UpstreamStore to the
// narrower collaborator interfaces policy.Manager and budget.Tracker
// depend on. Kept identical to internal/engine's own adapters since
// both sit in front of the same store.
type userPolicyStore struct{ store refstore.UpstreamStore }

func (s userPolicyStore) LoadUserPolicy(ctx context.Context, principalID, projectID string) (types.UserPolicy, error) {
	pc, err := s.store.LoadPrincipalContext(ctx, principalID, projectID)
	if err != nil {
		return types.UserPolicy{}, err
	}
	return pc.Policy, nil
}

type budgetStore struct{ store refstore.UpstreamStore }

func (s budgetStore) GetBudgetStatus(ctx context.Context, principalID, projectID string) (types.BudgetStatus, error) {
	pc, err := s.store.LoadPrincipalContext(ctx, principalID, projectID)
	if err != nil {
		return types.BudgetStatus{}, err
	}
	status := types.BudgetStatus{SpentToday: pc.SpentToday, SpentMonth: pc.SpentThisMonth}
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

// buildEngine assembles a fully-wired Engine against a live SQLite
// reference store, the way runStart wires AgentWarden's collaborators
// from a loaded config.
func buildEngine(cfg config.Config, store *refstore.SQLiteStore, auditLog *audit.Logger, logger *slog.Logger) (*engine.Engine, error) {
	g := guard.New(cfg.Guard.SentinelFile, logger)

	cel, err := policy.NewCELEvaluator()
	if err != nil {
		return nil, fmt.Errorf("build CEL evaluator: %w", err)
	}
	policyMgr := policy.NewManager(store, userPolicyStore{store: store}, time.Minute, cel, logger)

	pricingEng := pricing.NewEngine(pricing.NewTable(time.Hour), 5.0)
	budgetTrk := budget.NewTracker(budgetStore{store: store}, time.Minute, logger)
	baselineTrk := baseline.NewTracker(store, cfg.Baseline.CacheTTL, logger)
	riskDet := risk.NewDetector()

	judge := adjudicatorClient(cfg.Adjudicator)
	fallback := cfg.Adjudicator.FallbackThreshold
	fastEval := adjudicator.NewEvaluator(judge, fallback)
	deepEval := adjudicator.NewEvaluator(judge, fallback)

	ledger := payment.NewMemoryLedger()
	paymentExec := payment.NewExecutor(ledger)

	notifier := alert.NewManager(cfg.Approval, logger)
	var mgr *alert.Manager
	if notifier.HasSenders() {
		mgr = notifier
	}
	approvals := approval.NewQueue(auditLog, mgr, logger)

	onTimeout := approval.TimeoutReject
	if cfg.Approval.DefaultTimeoutEffect == "approve" {
		onTimeout = approval.TimeoutApprove
	}

	thresholds := engine.Thresholds{
		FastTierCostCap:           cfg.Decision.FastTierCostCap,
		FastTierRiskCap:           cfg.Decision.FastTierRiskCap,
		DeepTierEscalateRiskFloor: cfg.Decision.DeepTierEscalateRiskFloor,
		BaselineLookbackDays:      cfg.Baseline.LookbackDays,
	}

	return engine.New(g, policyMgr, store, pricingEng, budgetTrk, baselineTrk, riskDet,
		fastEval, deepEval, paymentExec, ledger, approvals, auditLog,
		thresholds, cfg.Approval.DefaultTimeout, onTimeout, logger), nil
}

// adjudicatorClient picks the production chat-endpoint client when one
// is configured, falling back to an in-process stub judge otherwise —
// the demo path gatewayd serve exercises by default, with no external
// dependency required to see the pipeline run end to end.
func adjudicatorClient(cfg config.AdjudicatorConfig) adjudicator.Client {
	if cfg.BaseURL != "" && cfg.APIKey != "" {
		return adjudicator.NewAgentClient(cfg.BaseURL, cfg.APIKey, cfg.Model)
	}
	return stubJudge{}
}

// stubJudge approves everything that isn't plainly expensive or risky,
// standing in for the opaque AI adjudicator when no endpoint is
// configured. Its reject thresholds (cost above 5.0, risk 8.0 and up)
// are looser than the Evaluator's own fallback rule on a Judge error.
type stubJudge struct{}

func (stubJudge) Judge(ctx context.Context, in adjudicator.Input) (types.AdjudicatorResult, error) {
	if in.Request.EstimatedCost > 5.0 || in.Risk.Score >= 8.0 {
		return types.AdjudicatorResult{
			Outcome:    types.AdjudicatorReject,
			Reasoning:  fmt.Sprintf("stub adjudicator: cost=%.2f risk=%.1f exceeds demo threshold", in.Request.EstimatedCost, in.Risk.Score),
			Confidence: 0.7,
			AgentID:    "stub-judge",
		}, nil
	}
	return types.AdjudicatorResult{
		Outcome:    types.AdjudicatorApprove,
		Reasoning:  "stub adjudicator: within demo cost/risk envelope",
		Confidence: 0.8,
		AgentID:    "stub-judge",
	}, nil
}
