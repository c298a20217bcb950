// Package baseline implements the Baseline Tracker: a read-only,
// cached fetch of a principal's historical behavior profile used by
// the Risk Detector.
package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

const defaultLookbackDays = 30

// Store is the narrow upstream capability the Tracker consumes.
type Store interface {
	FetchBaseline(ctx context.Context, principalID, projectID string, lookbackDays int) (*types.Baseline, error)
}

type cacheEntry struct {
	baseline  *types.Baseline
	fetchedAt time.Time
}

// Tracker is the Baseline Tracker.
type Tracker struct {
	mu     sync.RWMutex
	cache  map[string]cacheEntry
	ttl    time.Duration
	store  Store
	logger *slog.Logger
}

// NewTracker builds a Tracker over the given Store.
func NewTracker(store Store, ttl time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cache:  make(map[string]cacheEntry),
		ttl:    ttl,
		store:  store,
		logger: logger.With("component", "baseline.Tracker"),
	}
}

func cacheKey(principalID, projectID string, lookbackDays int) string {
	return fmt.Sprintf("%s:%s:%d", principalID, projectID, lookbackDays)
}

// Get returns the baseline for (principal, project), or nil if none
// exists or the fetch failed. A fetch error is logged and treated as
// "no baseline" rather than propagated: the Risk Detector degrades to
// absolute-threshold factors instead of failing the request.
func (t *Tracker) Get(ctx context.Context, principalID, projectID string, lookbackDays int) *types.Baseline {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookbackDays
	}
	key := cacheKey(principalID, projectID, lookbackDays)

	t.mu.RLock()
	entry, ok := t.cache[key]
	t.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < t.ttl {
		return entry.baseline
	}

	b, err := t.store.FetchBaseline(ctx, principalID, projectID, lookbackDays)
	if err != nil {
		t.logger.Warn("baseline fetch failed, proceeding without one",
			"error", err, "principal_id", principalID, "project_id", projectID)
		b = nil
	}

	t.mu.Lock()
	t.cache[key] = cacheEntry{baseline: b, fetchedAt: time.Now().UTC()}
	t.mu.Unlock()

	if b == nil {
		t.logger.Info("no baseline found", "principal_id", principalID, "project_id", projectID)
	}
	return b
}

// Quality is a convenience wrapper around Baseline.Quality that
// tolerates a nil baseline.
func Quality(b *types.Baseline) types.BaselineQuality {
	if b == nil {
		return types.BaselineQuality{ConfidenceLevel: types.ConfidenceInsufficient}
	}
	return b.Quality()
}

// ClearCache purges the cached baseline for (principal, project), or
// the entire cache when both are empty.
func (t *Tracker) ClearCache(principalID, projectID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if principalID == "" && projectID == "" {
		t.cache = make(map[string]cacheEntry)
		return
	}
	prefix := principalID + ":" + projectID + ":"
	for k := range t.cache {
		if strings.HasPrefix(k, prefix) {
			delete(t.cache, k)
		}
	}
}
