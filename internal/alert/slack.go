package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentwarden/gateway/internal/config"
)

// SlackSender posts escalation events to a Slack incoming webhook.
type SlackSender struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackSender builds a SlackSender from cfg.
func NewSlackSender(cfg config.SlackConfig) *SlackSender {
	return &SlackSender{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *SlackSender) Name() string { return "slack" }

// Send posts e to Slack.
func (s *SlackSender) Send(e Event) error {
	emoji := severityEmoji(e.Severity)
	color := severityColor(e.Severity)

	payload := map[string]interface{}{
		"channel": s.channel,
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  fmt.Sprintf("%s Escalation: %s", emoji, e.Type),
				"text":   e.Reasoning,
				"fields": buildSlackFields(e),
				"ts":     e.Timestamp.Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to send slack webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

func buildSlackFields(e Event) []map[string]interface{} {
	return []map[string]interface{}{
		{"title": "Request", "value": e.RequestID, "short": true},
		{"title": "Principal", "value": e.PrincipalID, "short": true},
		{"title": "Risk score", "value": fmt.Sprintf("%.1f", e.RiskScore), "short": true},
		{"title": "Approval ID", "value": e.ApprovalID, "short": true},
	}
}

func severityEmoji(severity string) string {
	switch severity {
	case "critical":
		return "🔴"
	case "warning":
		return "🟡"
	default:
		return "🔵"
	}
}

func severityColor(severity string) string {
	switch severity {
	case "critical":
		return "#dc3545"
	case "warning":
		return "#ffc107"
	default:
		return "#17a2b8"
	}
}
