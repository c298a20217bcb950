package engine

import (
	"context"
	"testing"
	"time"

	"github.com/agentwarden/gateway/internal/adjudicator"
	"github.com/agentwarden/gateway/internal/approval"
	"github.com/agentwarden/gateway/internal/audit"
	"github.com/agentwarden/gateway/internal/baseline"
	"github.com/agentwarden/gateway/internal/budget"
	"github.com/agentwarden/gateway/internal/guard"
	"github.com/agentwarden/gateway/internal/payment"
	"github.com/agentwarden/gateway/internal/policy"
	"github.com/agentwarden/gateway/internal/pricing"
	"github.com/agentwarden/gateway/internal/refstore"
	"github.com/agentwarden/gateway/internal/risk"
	"github.com/agentwarden/gateway/internal/types"
)

type fakeStore struct {
	principal types.PrincipalContext
	system    types.SystemPolicy
}

func (f *fakeStore) LoadPrincipalContext(ctx context.Context, principalID, projectID string) (types.PrincipalContext, error) {
	return f.principal, nil
}
func (f *fakeStore) LoadSystemPolicy(ctx context.Context) (types.SystemPolicy, error) {
	return f.system, nil
}
func (f *fakeStore) LoadPricing(ctx context.Context, provider, model string) (types.Pricing, error) {
	return types.Pricing{}, nil
}
func (f *fakeStore) FetchBaseline(ctx context.Context, principalID, projectID string, lookbackDays int) (*types.Baseline, error) {
	return nil, nil
}
func (f *fakeStore) RecordSpend(ctx context.Context, principalID, projectID, provider, model string, amount float64, at time.Time) error {
	return nil
}
func (f *fakeStore) SpendRecords(ctx context.Context, principalID, projectID string, since time.Time) ([]refstore.SpendRow, error) {
	return nil, nil
}
func (f *fakeStore) SaveReservation(ctx context.Context, r types.PaymentReservation) error { return nil }
func (f *fakeStore) SavePaymentResult(ctx context.Context, r types.PaymentResult) error    { return nil }
func (f *fakeStore) Close() error                                                         { return nil }

type stubJudge struct {
	result types.AdjudicatorResult
	err    error
}

func (s stubJudge) Judge(ctx context.Context, in adjudicator.Input) (types.AdjudicatorResult, error) {
	return s.result, s.err
}

func testPrincipal() types.PrincipalContext {
	return types.PrincipalContext{
		PrincipalID:   "p1",
		ProjectID:     "proj1",
		AccountStatus: "active",
		Verified:      true,
		Policy: types.UserPolicy{
			AllowedProviders: []string{"openai"},
			AllowedModels:    map[string][]string{"openai": {"gpt-4o-mini", "gpt-4-turbo"}},
			PerRequestLimit:  10,
			DailyLimit:       100,
			MonthlyLimit:     1000,
			MaxRiskScore:     9,
			AutoApproveRiskThreshold: 0.5,
			IsActive:         true,
		},
	}
}

func newTestEngine(t *testing.T, principal types.PrincipalContext, judge stubJudge) *Engine {
	t.Helper()
	store := &fakeStore{principal: principal, system: types.SystemPolicy{RetentionDays: 90}}
	g := guard.New("", nil)
	cel, err := policy.NewCELEvaluator()
	if err != nil {
		t.Fatalf("NewCELEvaluator: %v", err)
	}
	policyMgr := policy.NewManager(store, userPolicyStore{store: store}, time.Minute, cel, nil)
	pricingEng := pricing.NewEngine(pricing.NewTable(time.Hour), 5.0)
	budgetTrk := budget.NewTracker(budgetStore{store: store}, time.Minute, nil)
	baselineTrk := baseline.NewTracker(store, time.Minute, nil)
	riskDet := risk.NewDetector()
	eval := adjudicator.NewEvaluator(judge, 1.0)
	ledger := payment.NewMemoryLedger()
	paymentExec := payment.NewExecutor(ledger)
	auditLog, err := audit.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("audit.NewLogger: %v", err)
	}
	t.Cleanup(func() { auditLog.Close() })
	approvals := approval.NewQueue(auditLog, nil, nil)

	return New(g, policyMgr, store, pricingEng, budgetTrk, baselineTrk, riskDet,
		eval, eval, paymentExec, ledger, approvals, auditLog,
		Thresholds{FastTierCostCap: 1.0, FastTierRiskCap: 5.0, DeepTierEscalateRiskFloor: 7.0},
		200*time.Millisecond, approval.TimeoutReject, nil)
}

func baseRequest() types.Request {
	return types.Request{
		PrincipalID: "p1", ProjectID: "proj1", Provider: "openai", Model: "gpt-4o-mini",
		Operation: types.OperationChat, Params: map[string]any{"prompt": "hello"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestProcess_ApprovesWithinFastTier(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95, Reasoning: "looks fine", AgentID: "judge-1"}}
	e := newTestEngine(t, testPrincipal(), judge)

	out := e.Process(context.Background(), baseRequest())
	if out.Decision.Outcome != types.OutcomeApproved {
		t.Fatalf("expected APPROVED, got %+v", out.Decision)
	}
	if out.Decision.Tier != types.TierFast {
		t.Errorf("expected FAST tier, got %s", out.Decision.Tier)
	}
	if out.Reservation == nil || out.Reservation.TxRef == "" {
		t.Error("expected a funded payment reservation")
	}
}

func TestProcess_RejectsUnauthorizedProvider(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95}}
	e := newTestEngine(t, testPrincipal(), judge)

	req := baseRequest()
	req.Provider = "anthropic"
	out := e.Process(context.Background(), req)

	if out.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED, got %+v", out.Decision)
	}
	if out.Decision.RejectionReason == nil || *out.Decision.RejectionReason != types.RejectUnauthorizedProvider {
		t.Errorf("expected UNAUTHORIZED_PROVIDER, got %+v", out.Decision.RejectionReason)
	}
}

func TestProcess_RejectsOverPerRequestLimit(t *testing.T) {
	// The Budget Tracker's projection rule enforces per-request limit as
	// part of step 5 (budget check), ahead of step 6 (policy
	// compliance) which would otherwise flag the same limit.
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95}}
	principal := testPrincipal()
	principal.Policy.PerRequestLimit = 0.0000001
	e := newTestEngine(t, principal, judge)

	out := e.Process(context.Background(), baseRequest())
	if out.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED, got %+v", out.Decision)
	}
	if *out.Decision.RejectionReason != types.RejectInsufficientBudget {
		t.Errorf("expected INSUFFICIENT_BUDGET, got %s", *out.Decision.RejectionReason)
	}
}

func TestProcess_GuardBlocksBeforeAnythingElse(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95}}
	e := newTestEngine(t, testPrincipal(), judge)
	e.guard.TriggerGlobal("incident", "test")

	out := e.Process(context.Background(), baseRequest())
	if out.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED, got %+v", out.Decision)
	}
	if *out.Decision.RejectionReason != types.RejectSystemDeny {
		t.Errorf("expected SYSTEM_DENY, got %s", *out.Decision.RejectionReason)
	}
}

func TestProcess_AdjudicatorRejectsHighCostDeepTier(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorReject, Confidence: 0.9, Reasoning: "policy concern"}}
	principal := testPrincipal()
	e := newTestEngine(t, principal, judge)

	req := baseRequest()
	req.Model = "gpt-4-turbo" // pricier model so a within-bounds token count still forces cost above the fast-tier cap
	req.Params = map[string]any{"prompt": "a very long escalated request needing deep review"}
	req.EstimatedTokens = 200_000

	out := e.Process(context.Background(), req)
	if out.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED, got %+v", out.Decision)
	}
	if out.Decision.Tier != types.TierDeep {
		t.Errorf("expected DEEP tier, got %s", out.Decision.Tier)
	}
}

func TestProcess_EscalatesAndTimesOutToReject(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.1, Reasoning: "uncertain"}}
	principal := testPrincipal()
	principal.Policy.AutoApproveRiskThreshold = 0.99
	e := newTestEngine(t, principal, judge)

	out := e.Process(context.Background(), baseRequest())
	if out.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED after escalation timeout, got %+v", out.Decision)
	}
}

func TestProcess_RejectsMissingProjectID(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95}}
	e := newTestEngine(t, testPrincipal(), judge)

	req := baseRequest()
	req.ProjectID = ""
	out := e.Process(context.Background(), req)

	if out.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED for missing project_id, got %+v", out.Decision)
	}
	if out.Decision.RejectionReason == nil || *out.Decision.RejectionReason != types.RejectSystemError {
		t.Errorf("expected SYSTEM_ERROR, got %+v", out.Decision.RejectionReason)
	}
}

func TestProcess_RejectsEstimatedTokensOverMax(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95}}
	e := newTestEngine(t, testPrincipal(), judge)

	req := baseRequest()
	req.EstimatedTokens = 1_000_001
	out := e.Process(context.Background(), req)

	if out.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED for out-of-range estimated_tokens, got %+v", out.Decision)
	}
	if out.Decision.Tier != types.TierSystem {
		t.Errorf("expected TierSystem, got %s", out.Decision.Tier)
	}
}

func TestProcess_UnknownAgentElevatesRiskInsteadOfHardRejecting(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95, AgentID: "judge-1"}}
	principal := testPrincipal()
	e := newTestEngine(t, principal, judge)

	req := baseRequest()
	req.AgentID = "unregistered-agent"
	out := e.Process(context.Background(), req)

	if out.Decision.Outcome != types.OutcomeApproved {
		t.Fatalf("expected an unknown agent to reach adjudication rather than hard-reject, got %+v", out.Decision)
	}
	if out.Decision.RiskScore == nil || *out.Decision.RiskScore < 2.0 {
		t.Errorf("expected new_agent risk factor to elevate the score, got %+v", out.Decision.RiskScore)
	}
}

func TestProcess_TerminalDecisionsCarryOutcomeForReporting(t *testing.T) {
	judge := stubJudge{result: types.AdjudicatorResult{Outcome: types.AdjudicatorApprove, Confidence: 0.95, AgentID: "judge-1"}}
	e := newTestEngine(t, testPrincipal(), judge)

	approved := e.Process(context.Background(), baseRequest())
	if approved.Decision.Outcome != types.OutcomeApproved {
		t.Fatalf("expected APPROVED, got %+v", approved.Decision)
	}

	rejected := e.Process(context.Background(), func() types.Request {
		r := baseRequest()
		r.Provider = "anthropic"
		return r
	}())
	if rejected.Decision.Outcome != types.OutcomeRejected {
		t.Fatalf("expected REJECTED, got %+v", rejected.Decision)
	}

	report, err := e.auditLog.ComplianceReport("p1", "proj1", time.Now().UTC().Add(-time.Hour), time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("ComplianceReport: %v", err)
	}
	if report.ApprovedRequests != 1 {
		t.Errorf("ApprovedRequests = %d, want 1", report.ApprovedRequests)
	}
	if report.RejectedRequests != 1 {
		t.Errorf("RejectedRequests = %d, want 1", report.RejectedRequests)
	}
}
