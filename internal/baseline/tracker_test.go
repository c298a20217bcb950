package baseline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

type fakeStore struct {
	baseline *types.Baseline
	err      error
	calls    int
}

func (f *fakeStore) FetchBaseline(ctx context.Context, principalID, projectID string, lookbackDays int) (*types.Baseline, error) {
	f.calls++
	return f.baseline, f.err
}

func TestGet_CachesAcrossCalls(t *testing.T) {
	store := &fakeStore{baseline: &types.Baseline{SampleSize: 50}}
	tr := NewTracker(store, time.Minute, nil)

	b1 := tr.Get(context.Background(), "p1", "proj1", 30)
	b2 := tr.Get(context.Background(), "p1", "proj1", 30)

	if store.calls != 1 {
		t.Errorf("store.calls = %d, want 1 (second call should hit cache)", store.calls)
	}
	if b1 != b2 {
		t.Error("expected cached baseline pointer to be returned")
	}
}

func TestGet_FetchErrorYieldsNilNotError(t *testing.T) {
	store := &fakeStore{err: errors.New("backend unavailable")}
	tr := NewTracker(store, time.Minute, nil)

	b := tr.Get(context.Background(), "p1", "proj1", 30)
	if b != nil {
		t.Errorf("expected nil baseline on fetch error, got %+v", b)
	}
}

func TestQuality_NilBaselineIsInsufficient(t *testing.T) {
	q := Quality(nil)
	if q.ConfidenceLevel != types.ConfidenceInsufficient {
		t.Errorf("ConfidenceLevel = %s, want insufficient", q.ConfidenceLevel)
	}
}

func TestClearCache_ForcesRefetch(t *testing.T) {
	store := &fakeStore{baseline: &types.Baseline{SampleSize: 10}}
	tr := NewTracker(store, time.Minute, nil)

	tr.Get(context.Background(), "p1", "proj1", 30)
	tr.ClearCache("p1", "proj1")
	tr.Get(context.Background(), "p1", "proj1", 30)

	if store.calls != 2 {
		t.Errorf("store.calls = %d, want 2 after cache clear", store.calls)
	}
}
