package types

import "time"

// EventType is the stable symbolic name of an audit event. Any
// implementation must use exactly these names so trails are portable.
type EventType string

const (
	EventRequestReceived EventType = "request_received"
	EventPolicyCheck     EventType = "policy_check"
	EventBudgetCheck     EventType = "budget_check"
	EventRiskAssessment  EventType = "risk_assessment"
	EventAgentDecision   EventType = "agent_decision"
	EventPaymentReserved EventType = "payment_reserved"
	EventPaymentCompleted EventType = "payment_completed"
	EventAPICallSuccess  EventType = "api_call_success"
	EventAPICallFailed   EventType = "api_call_failed"
	EventError           EventType = "error"
)

// EventResult is the outcome recorded on an audit event.
type EventResult string

const (
	ResultSuccess EventResult = "success"
	ResultFailure EventResult = "failure"
	ResultWarning EventResult = "warning"
)

// AuditEvent is one entry in a hash-chained, append-only log.
type AuditEvent struct {
	LogID       string         `json:"log_id"`
	Timestamp   time.Time      `json:"timestamp"`
	RequestID   string         `json:"request_id"`
	PrincipalID string         `json:"principal_id,omitempty"`
	ProjectID   string         `json:"project_id,omitempty"`
	AgentID     string         `json:"agent_id,omitempty"`
	EventType   EventType      `json:"event_type"`
	Details     map[string]any `json:"details,omitempty"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`
	Result      EventResult    `json:"result"`
	Error       string         `json:"error,omitempty"`

	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
}

// Trail is the totally ordered sequence of audit events for one request.
type Trail struct {
	RequestID string       `json:"request_id"`
	Events    []AuditEvent `json:"events"`
}

// ComplianceReport is the aggregated output of a compliance scan over a
// time window.
type ComplianceReport struct {
	PrincipalID       string    `json:"principal_id"`
	ProjectID         string    `json:"project_id,omitempty"`
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	TotalRequests     int       `json:"total_requests"`
	ApprovedRequests  int       `json:"approved_requests"`
	RejectedRequests  int       `json:"rejected_requests"`
	TotalSpending     float64   `json:"total_spending"`
	PolicyViolations  int       `json:"policy_violations"`
	RiskAlerts        int       `json:"risk_alerts"`
	PaymentFailures   int       `json:"payment_failures"`
	APIFailures       int       `json:"api_failures"`
}
