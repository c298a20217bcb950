// Package approval implements the escalation queue the Decision Engine
// parks a request in when it emits an ESCALATED outcome: the adjudicator
// approved it, but either its risk score reached the escalation floor or
// the adjudicator's confidence did not clear the auto-approve threshold.
// A human resolves it, or it times out to a
// policy-configured default effect.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/alert"
	"github.com/agentwarden/gateway/internal/audit"
	"github.com/agentwarden/gateway/internal/types"
)

// TimeoutEffect is what happens to an escalation nobody resolves in time.
type TimeoutEffect string

const (
	TimeoutApprove TimeoutEffect = "approve"
	TimeoutReject  TimeoutEffect = "reject"
)

// Request is a decision pending human review.
type Request struct {
	ID            string
	RequestID     string
	PrincipalID   string
	ProjectID     string
	Reasoning     string
	RiskScore     float64
	CostEstimate  float64
	Timeout       time.Duration
	TimeoutEffect TimeoutEffect
	CreatedAt     time.Time

	result chan Result
}

// Result is the outcome of a resolved (or timed-out) escalation.
type Result struct {
	Approved   bool
	ResolvedBy string
}

// Queue manages pending escalations.
type Queue struct {
	mu       sync.Mutex
	pending  map[string]*Request
	logger   *audit.Logger
	notifier *alert.Manager
	log      *slog.Logger
}

// NewQueue builds a Queue, persisting escalation lifecycle events to
// log and, when notifier is non-nil, notifying its configured channels
// on submit and on timeout.
func NewQueue(log *audit.Logger, notifier *alert.Manager, slogger *slog.Logger) *Queue {
	if slogger == nil {
		slogger = slog.Default()
	}
	return &Queue{
		pending:  make(map[string]*Request),
		logger:   log,
		notifier: notifier,
		log:      slogger.With("component", "approval"),
	}
}

// Submit parks req and blocks until it is resolved, times out, or ctx is
// cancelled.
func (q *Queue) Submit(ctx context.Context, req *Request) (Result, error) {
	req.CreatedAt = time.Now().UTC()
	req.result = make(chan Result, 1)

	q.mu.Lock()
	q.pending[req.ID] = req
	q.mu.Unlock()

	if q.logger != nil {
		q.logger.Append(req.RequestID, types.AuditEvent{
			PrincipalID: req.PrincipalID,
			ProjectID:   req.ProjectID,
			EventType:   types.EventAgentDecision,
			Result:      types.ResultWarning,
			Details: map[string]any{
				"outcome":     string(types.OutcomeEscalated),
				"approval_id": req.ID,
				"status":      "pending",
				"reasoning":   req.Reasoning,
				"risk_score":  req.RiskScore,
			},
		})
	}

	q.log.Info("escalation submitted", "approval_id", req.ID, "request_id", req.RequestID, "timeout", req.Timeout)
	if q.notifier != nil {
		q.notifier.Send(alert.Event{
			Type:        "escalation_pending",
			Severity:    "warning",
			RequestID:   req.RequestID,
			ApprovalID:  req.ID,
			PrincipalID: req.PrincipalID,
			ProjectID:   req.ProjectID,
			Reasoning:   req.Reasoning,
			RiskScore:   req.RiskScore,
		})
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case result := <-req.result:
		return result, nil
	case <-timer.C:
		return q.timeout(req), nil
	case <-ctx.Done():
		q.cleanup(req.ID)
		return Result{}, ctx.Err()
	}
}

// Resolve approves or rejects a pending escalation.
func (q *Queue) Resolve(approvalID string, approved bool, resolvedBy string) error {
	q.mu.Lock()
	req, ok := q.pending[approvalID]
	if ok {
		delete(q.pending, approvalID)
	}
	q.mu.Unlock()

	if !ok {
		return fmt.Errorf("approval: %s not found or already resolved", approvalID)
	}

	status := "rejected"
	if approved {
		status = "approved"
	}
	if q.logger != nil {
		q.logger.Append(req.RequestID, types.AuditEvent{
			PrincipalID: req.PrincipalID,
			ProjectID:   req.ProjectID,
			EventType:   types.EventAgentDecision,
			Result:      types.ResultSuccess,
			Details: map[string]any{
				"outcome": string(types.OutcomeEscalated), "approval_id": approvalID, "status": status, "resolved_by": resolvedBy,
			},
		})
	}

	req.result <- Result{Approved: approved, ResolvedBy: resolvedBy}
	q.log.Info("escalation resolved", "approval_id", approvalID, "approved", approved, "resolved_by", resolvedBy)
	return nil
}

func (q *Queue) timeout(req *Request) Result {
	q.mu.Lock()
	delete(q.pending, req.ID)
	q.mu.Unlock()

	approved := req.TimeoutEffect == TimeoutApprove
	if q.logger != nil {
		q.logger.Append(req.RequestID, types.AuditEvent{
			PrincipalID: req.PrincipalID,
			ProjectID:   req.ProjectID,
			EventType:   types.EventAgentDecision,
			Result:      types.ResultWarning,
			Details: map[string]any{
				"outcome": string(types.OutcomeEscalated), "approval_id": req.ID, "status": "timed_out", "default_effect": req.TimeoutEffect,
			},
		})
	}

	q.log.Warn("escalation timed out", "approval_id", req.ID, "default_effect", req.TimeoutEffect, "approved", approved)
	if q.notifier != nil {
		q.notifier.Send(alert.Event{
			Type:        "escalation_timeout",
			Severity:    "critical",
			RequestID:   req.RequestID,
			ApprovalID:  req.ID,
			PrincipalID: req.PrincipalID,
			ProjectID:   req.ProjectID,
			Reasoning:   req.Reasoning,
			RiskScore:   req.RiskScore,
		})
	}
	return Result{Approved: approved, ResolvedBy: "timeout"}
}

// ListPending returns all currently pending escalations.
func (q *Queue) ListPending() []*Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Request, 0, len(q.pending))
	for _, req := range q.pending {
		out = append(out, req)
	}
	return out
}

func (q *Queue) cleanup(approvalID string) {
	q.mu.Lock()
	req, ok := q.pending[approvalID]
	delete(q.pending, approvalID)
	q.mu.Unlock()

	if ok && q.logger != nil {
		q.logger.Append(req.RequestID, types.AuditEvent{
			PrincipalID: req.PrincipalID,
			ProjectID:   req.ProjectID,
			EventType:   types.EventAgentDecision,
			Result:      types.ResultFailure,
			Details:     map[string]any{"outcome": string(types.OutcomeEscalated), "approval_id": approvalID, "status": "cancelled"},
		})
	}
}
