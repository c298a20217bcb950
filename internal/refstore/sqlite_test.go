package refstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "refstore.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadPrincipalContext(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pc := types.PrincipalContext{
		PrincipalID:   "p1",
		ProjectID:     "proj1",
		AccountStatus: "active",
		Verified:      true,
		KnownAgents:   []string{"agent-a"},
		Policy: types.UserPolicy{
			AllowedProviders: []string{"openai"},
			AllowedModels:    map[string][]string{"openai": {"gpt-4o-mini"}},
			IsActive:         true,
		},
	}
	if err := s.SavePrincipal(ctx, pc); err != nil {
		t.Fatalf("SavePrincipal: %v", err)
	}

	got, err := s.LoadPrincipalContext(ctx, "p1", "proj1")
	if err != nil {
		t.Fatalf("LoadPrincipalContext: %v", err)
	}
	if !got.Verified || got.AccountStatus != "active" {
		t.Errorf("unexpected principal context: %+v", got)
	}
	if !got.Policy.AllowsProvider("openai") {
		t.Error("expected loaded policy to allow openai")
	}
	if !got.HasAgent("agent-a") {
		t.Error("expected known agent to round-trip")
	}
}

func TestLoadPrincipalContext_ComputesSpendCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pc := types.PrincipalContext{PrincipalID: "p1", ProjectID: "proj1", Policy: types.UserPolicy{IsActive: true}}
	if err := s.SavePrincipal(ctx, pc); err != nil {
		t.Fatalf("SavePrincipal: %v", err)
	}

	now := time.Now().UTC()
	if err := s.RecordSpend(ctx, "p1", "proj1", "openai", "gpt-4o-mini", 1.25, now); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}
	if err := s.RecordSpend(ctx, "p1", "proj1", "openai", "gpt-4o-mini", 0.75, now); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	got, err := s.LoadPrincipalContext(ctx, "p1", "proj1")
	if err != nil {
		t.Fatalf("LoadPrincipalContext: %v", err)
	}
	if got.SpentToday != 2.0 {
		t.Errorf("SpentToday = %f, want 2.0", got.SpentToday)
	}
	if got.RecentRequestCount != 2 {
		t.Errorf("RecentRequestCount = %d, want 2", got.RecentRequestCount)
	}
}

func TestLoadPrincipalContext_ComputesRateCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pc := types.PrincipalContext{PrincipalID: "p1", ProjectID: "proj1", Policy: types.UserPolicy{IsActive: true}}
	if err := s.SavePrincipal(ctx, pc); err != nil {
		t.Fatalf("SavePrincipal: %v", err)
	}

	now := time.Now().UTC()
	if err := s.RecordSpend(ctx, "p1", "proj1", "openai", "gpt-4o-mini", 0.1, now); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}
	if err := s.RecordSpend(ctx, "p1", "proj1", "openai", "gpt-4o-mini", 0.1, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	got, err := s.LoadPrincipalContext(ctx, "p1", "proj1")
	if err != nil {
		t.Fatalf("LoadPrincipalContext: %v", err)
	}
	if got.RateCounters.PerMinute != 1 {
		t.Errorf("RateCounters.PerMinute = %d, want 1", got.RateCounters.PerMinute)
	}
	if got.RateCounters.PerHour != 1 {
		t.Errorf("RateCounters.PerHour = %d, want 1", got.RateCounters.PerHour)
	}
	if got.RateCounters.PerDay != 2 {
		t.Errorf("RateCounters.PerDay = %d, want 2", got.RateCounters.PerDay)
	}
}

func TestLoadSystemPolicy_DefaultsWhenUnset(t *testing.T) {
	s := newTestStore(t)
	sp, err := s.LoadSystemPolicy(context.Background())
	if err != nil {
		t.Fatalf("LoadSystemPolicy: %v", err)
	}
	if sp.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want default 90", sp.RetentionDays)
	}
}

func TestSaveAndLoadSystemPolicy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sp := types.SystemPolicy{DenyProviders: []string{"banned-co"}, AbsPerRequestCap: 50, RetentionDays: 180}
	if err := s.SaveSystemPolicy(ctx, sp); err != nil {
		t.Fatalf("SaveSystemPolicy: %v", err)
	}

	got, err := s.LoadSystemPolicy(ctx)
	if err != nil {
		t.Fatalf("LoadSystemPolicy: %v", err)
	}
	if len(got.DenyProviders) != 1 || got.DenyProviders[0] != "banned-co" {
		t.Errorf("DenyProviders = %v, want [banned-co]", got.DenyProviders)
	}
	if got.AbsPerRequestCap != 50 {
		t.Errorf("AbsPerRequestCap = %f, want 50", got.AbsPerRequestCap)
	}
}

func TestFetchBaseline_NilWhenMissing(t *testing.T) {
	s := newTestStore(t)
	b, err := s.FetchBaseline(context.Background(), "nobody", "nowhere", 30)
	if err != nil {
		t.Fatalf("FetchBaseline: %v", err)
	}
	if b != nil {
		t.Errorf("expected nil baseline, got %+v", b)
	}
}

func TestSaveAndFetchBaseline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := types.Baseline{PrincipalID: "p1", ProjectID: "proj1", AverageRequestCost: 2.5, SampleSize: 42, ValidUntil: time.Now().UTC().Add(24 * time.Hour)}
	if err := s.SaveBaseline(ctx, b); err != nil {
		t.Fatalf("SaveBaseline: %v", err)
	}

	got, err := s.FetchBaseline(ctx, "p1", "proj1", 30)
	if err != nil {
		t.Fatalf("FetchBaseline: %v", err)
	}
	if got == nil || got.SampleSize != 42 {
		t.Errorf("unexpected baseline: %+v", got)
	}
}

func TestReservationAndPaymentResultRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	reservation := types.PaymentReservation{
		ReservationID: "rsv_1", RequestID: "req1", PrincipalID: "p1", ProjectID: "proj1",
		EstimatedAmount: 1.0, Status: types.PaymentReserved, TxRef: "tx1", ReservedAt: time.Now().UTC(),
	}
	if err := s.SaveReservation(ctx, reservation); err != nil {
		t.Fatalf("SaveReservation: %v", err)
	}

	result := types.PaymentResult{
		PaymentID: "pay_1", ReservationID: "rsv_1", RequestID: "req1",
		EstimatedAmount: 1.0, ActualAmount: 0.8, VarianceAmount: 0.2, VariancePercent: 20,
		Provider: "openai", Status: types.PaymentCommitted,
		InitiatedAt: time.Now().UTC(), CompletedAt: time.Now().UTC(),
	}
	if err := s.SavePaymentResult(ctx, result); err != nil {
		t.Fatalf("SavePaymentResult: %v", err)
	}
}

func TestSpendRecords_OrderedAndFiltered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	s.RecordSpend(ctx, "p1", "proj1", "openai", "gpt-4o-mini", 1.0, old)
	s.RecordSpend(ctx, "p1", "proj1", "anthropic", "claude", 2.0, recent)

	records, err := s.SpendRecords(ctx, "p1", "proj1", time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("SpendRecords: %v", err)
	}
	if len(records) != 1 || records[0].Provider != "anthropic" {
		t.Errorf("expected only the recent anthropic record, got %+v", records)
	}
}
