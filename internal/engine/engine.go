// Package engine implements the Decision Engine: the fixed pipeline
// that turns one intake Request into a terminal Decision, gated at
// every step by the emergency guard and backed end-to-end by an
// append-only audit trail.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentwarden/gateway/internal/adjudicator"
	"github.com/agentwarden/gateway/internal/approval"
	"github.com/agentwarden/gateway/internal/audit"
	"github.com/agentwarden/gateway/internal/baseline"
	"github.com/agentwarden/gateway/internal/budget"
	"github.com/agentwarden/gateway/internal/guard"
	"github.com/agentwarden/gateway/internal/gwerr"
	"github.com/agentwarden/gateway/internal/payment"
	"github.com/agentwarden/gateway/internal/policy"
	"github.com/agentwarden/gateway/internal/pricing"
	"github.com/agentwarden/gateway/internal/refstore"
	"github.com/agentwarden/gateway/internal/risk"
	"github.com/agentwarden/gateway/internal/types"
)

// Thresholds carries the Decision Engine's tunable routing and
// escalation cutoffs. Populated from config.DecisionConfig.
type Thresholds struct {
	FastTierCostCap           float64
	FastTierRiskCap           float64
	DeepTierEscalateRiskFloor float64
	BaselineLookbackDays      int
}

// Engine is the Decision Engine: one process() call per request,
// moving it through every pipeline step in order and never skipping
// one once started, except where the guard or a fatal error
// short-circuits the remainder.
type Engine struct {
	guard       *guard.Guard
	policyMgr   *policy.Manager
	store       refstore.UpstreamStore
	pricingEng  *pricing.Engine
	budgetTrk   *budget.Tracker
	baselineTrk *baseline.Tracker
	riskDet     *risk.Detector
	fastEval    *adjudicator.Evaluator
	deepEval    *adjudicator.Evaluator
	paymentExec *payment.Executor
	ledger      *payment.MemoryLedger
	approvals   *approval.Queue
	auditLog    *audit.Logger

	thresholds       Thresholds
	approvalTimeout  time.Duration
	approvalOnTimeout approval.TimeoutEffect

	logger *slog.Logger
}

// New assembles a Engine from its fully-constructed collaborators.
func New(
	g *guard.Guard,
	policyMgr *policy.Manager,
	store refstore.UpstreamStore,
	pricingEng *pricing.Engine,
	budgetTrk *budget.Tracker,
	baselineTrk *baseline.Tracker,
	riskDet *risk.Detector,
	fastEval, deepEval *adjudicator.Evaluator,
	paymentExec *payment.Executor,
	ledger *payment.MemoryLedger,
	approvals *approval.Queue,
	auditLog *audit.Logger,
	thresholds Thresholds,
	approvalTimeout time.Duration,
	approvalOnTimeout approval.TimeoutEffect,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		guard: g, policyMgr: policyMgr, store: store, pricingEng: pricingEng,
		budgetTrk: budgetTrk, baselineTrk: baselineTrk, riskDet: riskDet,
		fastEval: fastEval, deepEval: deepEval, paymentExec: paymentExec,
		ledger: ledger, approvals: approvals, auditLog: auditLog,
		thresholds: thresholds, approvalTimeout: approvalTimeout, approvalOnTimeout: approvalOnTimeout,
		logger: logger.With("component", "engine"),
	}
}

// Outcome bundles the Decision with whatever a caller needs to proceed
// to real execution: a RESERVED payment to settle once the upstream
// call completes, or nil when the request never reached payment.
type Outcome struct {
	Decision    types.Decision
	Reservation *types.PaymentReservation
	Context     types.PrincipalContext
}

// Process runs req through the fixed pipeline and returns the
// terminal Decision. It never panics on a collaborator error: every
// failure is classified via gwerr.Classify into a REJECTED or ERROR
// decision, and the attempt is always audited before returning.
func (e *Engine) Process(ctx context.Context, req types.Request) Outcome {
	req = req.WithGeneratedID()
	e.append(req, types.EventRequestReceived, types.ResultSuccess, map[string]any{
		"provider": req.Provider, "model": req.Model, "operation": req.Operation,
	}, "")

	// Step 0: emergency guard. Nothing downstream runs once blocked.
	if blocked, reason := e.guard.IsBlocked(req.PrincipalID, req.ProjectID); blocked {
		return e.reject(req, types.RejectSystemDeny, "emergency guard active: "+reason, types.TierSystem)
	}

	// Step 1: structural validation.
	if err := validateStructure(req); err != nil {
		return e.fail(req, err, types.TierSystem)
	}

	// Step 2: context load. An agent unknown to the principal is not
	// gated here — it flows through as the risk detector's new_agent
	// factor (spec §4.5) and is settled by tier routing/adjudication.
	principal, err := e.store.LoadPrincipalContext(ctx, req.PrincipalID, req.ProjectID)
	if err != nil {
		return e.fail(req, &gwerr.UpstreamError{Operation: "load_principal_context", Cause: err}, types.TierSystem)
	}

	// Step 3: allow-list enforcement, ahead of any pricing call.
	if len(principal.Policy.AllowedProviders) == 0 {
		return e.fail(req, &gwerr.AllowListViolation{RejectionType: types.RejectNoProvidersConfigured, Message: "policy configures no allowed providers"}, types.TierSystem)
	}
	if !principal.Policy.AllowsProvider(req.Provider) {
		return e.fail(req, &gwerr.AllowListViolation{RejectionType: types.RejectUnauthorizedProvider, Message: fmt.Sprintf("provider %q is not on the allow-list", req.Provider)}, types.TierSystem)
	}
	if len(principal.Policy.AllowedModels[req.Provider]) == 0 {
		return e.fail(req, &gwerr.AllowListViolation{RejectionType: types.RejectNoModelsConfigured, Message: fmt.Sprintf("no models configured for provider %q", req.Provider)}, types.TierSystem)
	}
	if !principal.Policy.AllowsModel(req.Provider, req.Model) {
		return e.fail(req, &gwerr.AllowListViolation{RejectionType: types.RejectUnauthorizedModel, Message: fmt.Sprintf("model %q is not allowed for provider %q", req.Model, req.Provider)}, types.TierSystem)
	}

	// Step 4: cost estimation.
	if p, err := e.store.LoadPricing(ctx, req.Provider, req.Model); err == nil && p.Provider != "" {
		e.pricingEng.RefreshPricing(p)
	}
	estimate := e.pricingEng.EstimateCost(req.Provider, req.Model, estimateInputFor(req))
	req.EstimatedCost = estimate.TotalCost

	// Step 5: budget check.
	budgetCheck := e.budgetTrk.CheckSufficient(ctx, req.PrincipalID, req.ProjectID, req.EstimatedCost)
	e.append(req, types.EventBudgetCheck, resultFor(budgetCheck.Sufficient), map[string]any{
		"available": budgetCheck.AvailableBalance, "required": budgetCheck.Required,
	}, "")
	if !budgetCheck.Sufficient {
		return e.fail(req, &gwerr.BudgetInsufficient{Available: budgetCheck.AvailableBalance, Required: budgetCheck.Required}, types.TierSystem)
	}

	// Step 6: policy compliance.
	systemPolicy, err := e.policyMgr.LoadSystem(ctx)
	if err != nil {
		return e.fail(req, &gwerr.UpstreamError{Operation: "load_system_policy", Cause: err}, types.TierSystem)
	}
	compliance := e.policyMgr.CheckCompliance(req, principal, systemPolicy)
	e.append(req, types.EventPolicyCheck, resultFor(compliance.Compliant), map[string]any{
		"policies_checked": compliance.PoliciesChecked, "violation_count": len(compliance.Violations),
	}, "")
	if !compliance.Compliant {
		worst, _ := compliance.RejectionReason()
		return e.fail(req, &gwerr.PolicyViolation{Severity: worst.Severity, Message: worst.Message}, types.TierSystem)
	}

	// Step 7: risk assessment.
	lookback := e.thresholds.BaselineLookbackDays
	if lookback <= 0 {
		lookback = 30
	}
	bl := e.baselineTrk.Get(ctx, req.PrincipalID, req.ProjectID, lookback)
	assessment := e.riskDet.Assess(risk.Input{
		RequestID: req.RequestID, EstimatedCost: req.EstimatedCost, Provider: req.Provider,
		Model: req.Model, AgentID: req.AgentID, AssessedAt: req.CreatedAt,
		Context: principal, Baseline: bl,
	})
	riskResult := types.ResultSuccess
	if assessment.Category == types.RiskHigh || assessment.Category == types.RiskCritical {
		riskResult = types.ResultWarning
	}
	e.append(req, types.EventRiskAssessment, riskResult, map[string]any{
		"score": assessment.Score, "category": assessment.Category, "is_anomaly": assessment.IsAnomaly,
	}, "")
	if principal.Policy.MaxRiskScore > 0 && assessment.Score > principal.Policy.MaxRiskScore {
		return e.fail(req, &gwerr.RiskTooHigh{Score: assessment.Score, Threshold: principal.Policy.MaxRiskScore}, types.TierSystem)
	}

	// Step 8: tier routing.
	tier := types.TierDeep
	if req.EstimatedCost < e.thresholds.FastTierCostCap && assessment.Score < e.thresholds.FastTierRiskCap {
		tier = types.TierFast
	}

	// Step 9: adjudication.
	evaluator := e.fastEval
	if tier == types.TierDeep {
		evaluator = e.deepEval
	}
	verdict := evaluator.Evaluate(ctx, adjudicator.Input{Request: req, Risk: assessment, Tier: tier})
	e.append(req, types.EventAgentDecision, resultFor(verdict.Outcome == types.AdjudicatorApprove), map[string]any{
		"tier": tier, "confidence": verdict.Confidence, "agent_id": verdict.AgentID,
	}, "")

	if verdict.Outcome == types.AdjudicatorReject {
		return e.rejectWithReasoning(req, verdict.Reasoning, tier)
	}

	policyThreshold := principal.Policy.AutoApproveRiskThreshold
	needsEscalation := assessment.Score >= e.thresholds.DeepTierEscalateRiskFloor ||
		(policyThreshold > 0 && verdict.Confidence < policyThreshold)

	if needsEscalation {
		result, err := e.approvals.Submit(ctx, &approval.Request{
			ID: types.NewID("appr"), RequestID: req.RequestID, PrincipalID: req.PrincipalID,
			ProjectID: req.ProjectID, Reasoning: verdict.Reasoning, RiskScore: assessment.Score,
			CostEstimate: req.EstimatedCost, Timeout: e.approvalTimeout, TimeoutEffect: e.approvalOnTimeout,
		})
		if err != nil {
			return e.fail(req, &gwerr.UpstreamError{Operation: "escalation_wait", Cause: err}, tier)
		}
		if !result.Approved {
			return e.rejectWithReasoning(req, "escalation resolved: rejected by "+result.ResolvedBy, tier)
		}
	}

	// Step 10: payment reserve.
	e.ledger.Seed(req.PrincipalID, req.ProjectID, budgetCheck.AvailableBalance)
	reservation, err := e.paymentExec.Reserve(ctx, req.RequestID, req.PrincipalID, req.ProjectID, req.EstimatedCost)
	if err != nil {
		e.append(req, types.EventPaymentReserved, types.ResultFailure, map[string]any{"error": err.Error()}, err.Error())
		return e.fail(req, err, tier)
	}
	if err := e.store.SaveReservation(ctx, reservation); err != nil {
		e.logger.Warn("failed to persist reservation", "request_id", req.RequestID, "error", err)
	}
	e.append(req, types.EventPaymentReserved, types.ResultSuccess, map[string]any{
		"reservation_id": reservation.ReservationID, "estimated_amount": reservation.EstimatedAmount, "tx_ref": reservation.TxRef,
	}, "")

	decision := types.NewDecision(req.RequestID, types.OutcomeApproved, tier)
	decision.Reasoning = verdict.Reasoning
	decision.Confidence = verdict.Confidence
	decision.AgentID = verdict.AgentID
	decision.TxRef = reservation.TxRef
	riskScore := assessment.Score
	decision.RiskScore = &riskScore
	cost := req.EstimatedCost
	decision.CostEstimate = &cost
	decision.PoliciesChecked = compliance.PoliciesChecked

	e.append(req, types.EventAgentDecision, types.ResultSuccess, map[string]any{
		"outcome": string(types.OutcomeApproved), "tier": tier, "confidence": verdict.Confidence, "agent_id": verdict.AgentID,
	}, "")

	return Outcome{Decision: decision, Reservation: &reservation, Context: principal}
}

// Settle completes the pipeline's final two steps (execution having
// happened outside the engine, against the real provider): it
// reconciles actual cost against the reservation, records spend, and
// closes the request's audit trail.
func (e *Engine) Settle(ctx context.Context, req types.Request, reservation types.PaymentReservation, actualCost float64, provider string, execErr error) (types.PaymentResult, error) {
	if execErr != nil {
		e.append(req, types.EventAPICallFailed, types.ResultFailure, map[string]any{"error": execErr.Error()}, execErr.Error())
		return types.PaymentResult{}, execErr
	}
	e.append(req, types.EventAPICallSuccess, types.ResultSuccess, map[string]any{"actual_cost": actualCost}, "")

	result := e.paymentExec.Settle(reservation, actualCost, provider)
	if err := e.store.SavePaymentResult(ctx, result); err != nil {
		e.logger.Warn("failed to persist payment result", "request_id", req.RequestID, "error", err)
	}
	if err := e.store.RecordSpend(ctx, req.PrincipalID, req.ProjectID, provider, req.Model, actualCost, time.Now().UTC()); err != nil {
		e.logger.Warn("failed to record spend", "request_id", req.RequestID, "error", err)
	}
	e.append(req, types.EventPaymentCompleted, resultFor(result.Status != types.PaymentFailed), map[string]any{
		"payment_id": result.PaymentID, "estimated_amount": result.EstimatedAmount, "actual_amount": result.ActualAmount,
		"variance_amount": result.VarianceAmount, "variance_percent": result.VariancePercent,
	}, "")
	return result, nil
}

func (e *Engine) fail(req types.Request, err error, tier types.Tier) Outcome {
	outcome, rejectionType := gwerr.Classify(err)
	decision := types.NewDecision(req.RequestID, outcome, tier)
	decision.Reasoning = err.Error()
	decision.RejectionReason = &rejectionType

	eventType := types.EventAgentDecision
	evtResult := types.ResultFailure
	if outcome == types.OutcomeError {
		eventType = types.EventError
	}
	e.append(req, eventType, evtResult, map[string]any{"outcome": string(outcome), "rejection_reason": rejectionType}, err.Error())
	return Outcome{Decision: decision}
}

func (e *Engine) reject(req types.Request, rejection types.RejectionType, message string, tier types.Tier) Outcome {
	decision := types.NewDecision(req.RequestID, types.OutcomeRejected, tier)
	decision.Reasoning = message
	decision.RejectionReason = &rejection
	e.append(req, types.EventAgentDecision, types.ResultFailure, map[string]any{
		"outcome": string(types.OutcomeRejected), "rejection_reason": rejection,
	}, message)
	return Outcome{Decision: decision}
}

func (e *Engine) rejectWithReasoning(req types.Request, reasoning string, tier types.Tier) Outcome {
	decision := types.NewDecision(req.RequestID, types.OutcomeRejected, tier)
	decision.Reasoning = reasoning
	e.append(req, types.EventAgentDecision, types.ResultFailure, map[string]any{
		"outcome": string(types.OutcomeRejected), "reasoning": reasoning,
	}, "")
	return Outcome{Decision: decision}
}

func (e *Engine) append(req types.Request, eventType types.EventType, result types.EventResult, details map[string]any, errMsg string) {
	if e.auditLog == nil {
		return
	}
	if _, err := e.auditLog.Append(req.RequestID, types.AuditEvent{
		PrincipalID: req.PrincipalID, ProjectID: req.ProjectID, AgentID: req.AgentID,
		EventType: eventType, Result: result, Details: details, Error: errMsg,
	}); err != nil {
		e.logger.Error("failed to append audit event", "request_id", req.RequestID, "event_type", eventType, "error", err)
	}
}

func resultFor(ok bool) types.EventResult {
	if ok {
		return types.ResultSuccess
	}
	return types.ResultFailure
}

func validateStructure(req types.Request) error {
	if req.PrincipalID == "" {
		return &gwerr.StructuralError{Field: "principal_id", Message: "required"}
	}
	if req.ProjectID == "" {
		return &gwerr.StructuralError{Field: "project_id", Message: "required"}
	}
	if req.Provider == "" {
		return &gwerr.StructuralError{Field: "provider", Message: "required"}
	}
	if req.Model == "" {
		return &gwerr.StructuralError{Field: "model", Message: "required"}
	}
	if req.Operation == "" {
		return &gwerr.StructuralError{Field: "operation", Message: "required"}
	}
	if req.EstimatedTokens < 0 || req.EstimatedTokens > 1_000_000 {
		return &gwerr.StructuralError{Field: "estimated_tokens", Message: "must be between 0 and 1,000,000"}
	}
	return nil
}

func estimateInputFor(req types.Request) pricing.EstimateCostInput {
	in := pricing.EstimateCostInput{InputTokens: req.EstimatedTokens}
	if in.InputTokens == 0 {
		if text, ok := req.Params["prompt"].(string); ok {
			in.Text = text
		}
	}
	return in
}

