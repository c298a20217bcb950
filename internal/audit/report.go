package audit

import (
	"encoding/json"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

// ComplianceReport scans every log file in the logger's directory for
// events in [from, to] matching principalID (and, if non-empty,
// projectID), aggregating them into a types.ComplianceReport.
func (l *Logger) ComplianceReport(principalID, projectID string, from, to time.Time) (types.ComplianceReport, error) {
	report := types.ComplianceReport{PrincipalID: principalID, ProjectID: projectID, From: from, To: to}

	paths, err := l.sortedLogFiles()
	if err != nil {
		return report, err
	}

	seen := make(map[string]bool) // request-ids already counted toward total_requests
	for _, path := range paths {
		lines, err := readLines(path)
		if err != nil {
			return report, err
		}
		for _, line := range lines {
			var e types.AuditEvent
			if err := json.Unmarshal(line, &e); err != nil {
				continue
			}
			if !matches(e, principalID, projectID, from, to) {
				continue
			}
			accumulate(&report, e, seen)
		}
	}

	return report, nil
}

func matches(e types.AuditEvent, principalID, projectID string, from, to time.Time) bool {
	if e.PrincipalID != principalID {
		return false
	}
	if projectID != "" && e.ProjectID != projectID {
		return false
	}
	if e.Timestamp.Before(from) || e.Timestamp.After(to) {
		return false
	}
	return true
}

func accumulate(report *types.ComplianceReport, e types.AuditEvent, seen map[string]bool) {
	if !seen[e.RequestID] {
		seen[e.RequestID] = true
		report.TotalRequests++
	}

	switch e.EventType {
	case types.EventAgentDecision:
		if outcome, ok := e.Details["outcome"].(string); ok {
			switch outcome {
			case string(types.OutcomeApproved):
				report.ApprovedRequests++
			case string(types.OutcomeRejected):
				report.RejectedRequests++
			}
		}
	case types.EventPolicyCheck:
		if e.Result == types.ResultFailure {
			report.PolicyViolations++
		}
	case types.EventRiskAssessment:
		if e.Result == types.ResultWarning || e.Result == types.ResultFailure {
			report.RiskAlerts++
		}
	case types.EventPaymentCompleted:
		if actual, ok := e.Details["actual_amount"].(float64); ok {
			report.TotalSpending += actual
		}
		if e.Result == types.ResultFailure {
			report.PaymentFailures++
		}
	case types.EventAPICallFailed:
		report.APIFailures++
	}
}
