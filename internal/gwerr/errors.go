// Package gwerr defines the closed error taxonomy the Decision Engine
// uses to classify a pipeline failure into a REJECTED or ERROR decision.
// No exception-like value leaves the core that is not one of these.
package gwerr

import (
	"errors"
	"fmt"

	"github.com/agentwarden/gateway/internal/types"
)

// StructuralError means a required request field was missing or
// invalid. Always fatal for the request.
type StructuralError struct {
	Field   string
	Message string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("structural error: %s: %s", e.Field, e.Message)
}

// AllowListViolation means step 3 of the Decision Engine's pipeline
// rejected the request outright.
type AllowListViolation struct {
	RejectionType types.RejectionType
	Message       string
}

func (e *AllowListViolation) Error() string {
	return fmt.Sprintf("allow-list violation (%s): %s", e.RejectionType, e.Message)
}

// PolicyViolation wraps a compliance failure with its severity.
type PolicyViolation struct {
	Severity types.Severity
	Message  string
}

func (e *PolicyViolation) Error() string {
	return fmt.Sprintf("policy violation (%s): %s", e.Severity, e.Message)
}

// BudgetInsufficient means the Budget Tracker could not clear the
// estimated cost against the principal's available budget.
type BudgetInsufficient struct {
	Available float64
	Required  float64
}

func (e *BudgetInsufficient) Error() string {
	return fmt.Sprintf("insufficient budget: $%.2f available, $%.2f required", e.Available, e.Required)
}

// RiskTooHigh means the assessed risk score exceeded the policy's
// max_risk_score.
type RiskTooHigh struct {
	Score     float64
	Threshold float64
}

func (e *RiskTooHigh) Error() string {
	return fmt.Sprintf("risk score %.2f exceeds threshold %.2f", e.Score, e.Threshold)
}

// PaymentError is the base error raised by the Payment Executor.
type PaymentError struct {
	Message string
	Cause   error
}

func (e *PaymentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("payment error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("payment error: %s", e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Cause }

// InsufficientFundsError is a PaymentError subtype: the ledger reports
// the principal lacks funds to cover the reservation.
type InsufficientFundsError struct {
	PrincipalID string
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for principal %s", e.PrincipalID)
}

// UpstreamError wraps the failure of any external fetch (context,
// policy, budget, pricing, baseline). Components treat it fail-closed.
type UpstreamError struct {
	Operation string
	Cause     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error during %s: %v", e.Operation, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// AuditIntegrityError is raised only by verification, never the write
// path: it means a trail's hash chain does not reproduce.
type AuditIntegrityError struct {
	RequestID    string
	BrokenAtIndex int
}

func (e *AuditIntegrityError) Error() string {
	return fmt.Sprintf("audit integrity violation for %s at index %d", e.RequestID, e.BrokenAtIndex)
}

// ErrConfigSchema is returned when a config file uses an alternate or
// legacy schema; the loader never silently coerces between schemas.
var ErrConfigSchema = errors.New("config: unrecognized or legacy schema")

// Classify maps any error produced inside the pipeline to the
// (Outcome, RejectionType) pair the Decision Engine should record.
// Unrecognized errors map to a SYSTEM_ERROR outcome.
func Classify(err error) (types.Outcome, types.RejectionType) {
	var (
		structuralErr *StructuralError
		allowListErr  *AllowListViolation
		policyErr     *PolicyViolation
		budgetErr     *BudgetInsufficient
		riskErr       *RiskTooHigh
	)

	switch {
	case errors.As(err, &structuralErr):
		return types.OutcomeRejected, types.RejectSystemError
	case errors.As(err, &allowListErr):
		return types.OutcomeRejected, allowListErr.RejectionType
	case errors.As(err, &policyErr):
		if policyErr.Severity == types.SeverityCritical || policyErr.Severity == types.SeverityHigh {
			return types.OutcomeRejected, types.RejectForbiddenOperation
		}
		return types.OutcomeRejected, types.RejectForbiddenOperation
	case errors.As(err, &budgetErr):
		return types.OutcomeRejected, types.RejectInsufficientBudget
	case errors.As(err, &riskErr):
		return types.OutcomeRejected, types.RejectRiskTooHigh
	default:
		return types.OutcomeError, types.RejectSystemError
	}
}
