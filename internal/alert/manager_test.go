package alert

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agentwarden/gateway/internal/config"
)

type mockSender struct {
	name      string
	sendFunc  func(Event) error
	mu        sync.Mutex
	callCount int
	sent      []Event
}

func newMockSender(name string) *mockSender {
	return &mockSender{name: name}
}

func (m *mockSender) Name() string { return m.name }

func (m *mockSender) Send(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.sent = append(m.sent, e)
	if m.sendFunc != nil {
		return m.sendFunc(e)
	}
	return nil
}

func (m *mockSender) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockSender) getLastEvent() *Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	e := m.sent[len(m.sent)-1]
	return &e
}

func TestNewManager_SenderCount(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.ApprovalConfig
		expected int
	}{
		{"no channels configured", config.ApprovalConfig{}, 0},
		{"slack only", config.ApprovalConfig{Slack: config.SlackConfig{WebhookURL: "https://hooks.slack.com/test"}}, 1},
		{"webhook only", config.ApprovalConfig{Webhook: config.WebhookConfig{URL: "https://example.com/hook"}}, 1},
		{
			"both configured",
			config.ApprovalConfig{
				Slack:   config.SlackConfig{WebhookURL: "https://hooks.slack.com/test"},
				Webhook: config.WebhookConfig{URL: "https://example.com/hook"},
			},
			2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.cfg, slog.Default())
			if len(m.senders) != tt.expected {
				t.Errorf("len(senders) = %d, want %d", len(m.senders), tt.expected)
			}
			if (len(m.senders) > 0) != m.HasSenders() {
				t.Errorf("HasSenders() inconsistent with sender count")
			}
		})
	}
}

func newTestManager() *Manager {
	return &Manager{
		senders:  make([]Sender, 0),
		dedup:    make(map[string]time.Time),
		dedupTTL: 5 * time.Minute,
		logger:   slog.Default(),
	}
}

func TestManager_SendDispatchesToAllSenders(t *testing.T) {
	m := newTestManager()
	mock1 := newMockSender("slack")
	mock2 := newMockSender("webhook")
	m.senders = append(m.senders, mock1, mock2)

	m.Send(Event{Type: "escalation_pending", ApprovalID: "appr-1", RequestID: "req-1"})
	time.Sleep(50 * time.Millisecond)

	if mock1.getCallCount() != 1 || mock2.getCallCount() != 1 {
		t.Fatalf("expected both senders called once, got %d and %d", mock1.getCallCount(), mock2.getCallCount())
	}

	e := mock1.getLastEvent()
	if e == nil || e.Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped on send")
	}
}

func TestManager_SendDeduplicatesWithinTTL(t *testing.T) {
	m := newTestManager()
	mock := newMockSender("slack")
	m.senders = append(m.senders, mock)

	ev := Event{Type: "escalation_pending", ApprovalID: "appr-1"}
	m.Send(ev)
	m.Send(ev)
	m.Send(ev)
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("expected dedup to collapse repeats, got %d calls", mock.getCallCount())
	}
}

func TestManager_SendAllowsDistinctApprovals(t *testing.T) {
	m := newTestManager()
	mock := newMockSender("slack")
	m.senders = append(m.senders, mock)

	m.Send(Event{Type: "escalation_pending", ApprovalID: "appr-1"})
	m.Send(Event{Type: "escalation_pending", ApprovalID: "appr-2"})
	m.Send(Event{Type: "escalation_timeout", ApprovalID: "appr-1"})
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 3 {
		t.Errorf("expected 3 distinct events sent, got %d", mock.getCallCount())
	}
}

func TestManager_SendAllowsRepeatAfterTTLExpiry(t *testing.T) {
	m := newTestManager()
	m.dedupTTL = 100 * time.Millisecond
	mock := newMockSender("slack")
	m.senders = append(m.senders, mock)

	ev := Event{Type: "escalation_pending", ApprovalID: "appr-1"}
	m.Send(ev)
	time.Sleep(50 * time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	m.Send(ev)
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 2 {
		t.Errorf("expected 2 calls after TTL expiry, got %d", mock.getCallCount())
	}
}

func TestManager_SenderErrorDoesNotPanic(t *testing.T) {
	m := newTestManager()
	mock := newMockSender("flaky")
	mock.sendFunc = func(Event) error { return &senderErr{"boom"} }
	m.senders = append(m.senders, mock)

	m.Send(Event{Type: "escalation_pending", ApprovalID: "appr-1"})
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("expected 1 send attempt despite error, got %d", mock.getCallCount())
	}
}

type senderErr struct{ msg string }

func (e *senderErr) Error() string { return e.msg }

func TestManager_PruneDedup(t *testing.T) {
	m := newTestManager()
	m.dedupTTL = 100 * time.Millisecond

	now := time.Now()
	m.dedup["stale-1"] = now.Add(-300 * time.Millisecond)
	m.dedup["stale-2"] = now.Add(-250 * time.Millisecond)
	m.dedup["fresh-1"] = now.Add(-10 * time.Millisecond)

	m.PruneDedup()

	if _, ok := m.dedup["stale-1"]; ok {
		t.Error("expected stale-1 pruned")
	}
	if _, ok := m.dedup["stale-2"]; ok {
		t.Error("expected stale-2 pruned")
	}
	if _, ok := m.dedup["fresh-1"]; !ok {
		t.Error("expected fresh-1 retained")
	}
}

func TestManager_ConcurrentSendDeduplicates(t *testing.T) {
	m := newTestManager()
	mock := newMockSender("slack")
	m.senders = append(m.senders, mock)

	ev := Event{Type: "escalation_pending", ApprovalID: "appr-1"}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Send(ev)
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("expected concurrent identical sends to dedup to 1, got %d", mock.getCallCount())
	}
}
