// Package alert notifies external channels (Slack, a generic webhook)
// when the Decision Engine parks a request for human review, since an
// escalation that nobody sees defeats the point of escalating.
package alert

import (
	"log/slog"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/config"
)

// Event is a single escalation notification.
type Event struct {
	Type        string // escalation_pending, escalation_timeout
	Severity    string // info, warning, critical
	RequestID   string
	ApprovalID  string
	PrincipalID string
	ProjectID   string
	Reasoning   string
	RiskScore   float64
	Timestamp   time.Time
}

// Sender is an escalation delivery channel.
type Sender interface {
	Send(e Event) error
	Name() string
}

// Manager dispatches escalation events to configured channels,
// deduplicating repeats of the same (type, approval) within a window.
type Manager struct {
	mu       sync.Mutex
	senders  []Sender
	dedup    map[string]time.Time
	dedupTTL time.Duration
	logger   *slog.Logger
}

// NewManager builds a Manager wiring one Sender per configured channel
// in cfg. With neither Slack nor Webhook configured, Send is a no-op.
func NewManager(cfg config.ApprovalConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		senders:  make([]Sender, 0, 2),
		dedup:    make(map[string]time.Time),
		dedupTTL: 5 * time.Minute,
		logger:   logger.With("component", "alert.Manager"),
	}
	if cfg.Slack.WebhookURL != "" {
		m.senders = append(m.senders, NewSlackSender(cfg.Slack))
	}
	if cfg.Webhook.URL != "" {
		m.senders = append(m.senders, NewWebhookSender(cfg.Webhook))
	}
	return m
}

// Send dispatches e to all configured channels asynchronously.
func (m *Manager) Send(e Event) {
	e.Timestamp = time.Now().UTC()

	dedupKey := e.Type + "|" + e.ApprovalID
	m.mu.Lock()
	if last, ok := m.dedup[dedupKey]; ok && time.Since(last) < m.dedupTTL {
		m.mu.Unlock()
		m.logger.Debug("escalation alert deduplicated", "type", e.Type, "approval_id", e.ApprovalID)
		return
	}
	m.dedup[dedupKey] = time.Now()
	m.mu.Unlock()

	for _, sender := range m.senders {
		go func(s Sender) {
			if err := s.Send(e); err != nil {
				m.logger.Error("failed to send escalation alert", "sender", s.Name(), "type", e.Type, "error", err)
			}
		}(sender)
	}
}

// HasSenders reports whether any notification channel is configured.
func (m *Manager) HasSenders() bool {
	return len(m.senders) > 0
}

// PruneDedup removes stale dedup entries. Call periodically from a
// long-running process; a one-shot CLI invocation never needs it.
func (m *Manager) PruneDedup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for key, ts := range m.dedup {
		if now.Sub(ts) > m.dedupTTL*2 {
			delete(m.dedup, key)
		}
	}
}
