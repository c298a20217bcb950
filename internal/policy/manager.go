// Package policy implements the Policy Manager: layered system∧user
// compliance evaluation with closed allow-list semantics, a severity
// ladder, and optional CEL custom rules, backed by short-TTL (system)
// and purge-only (user) caches.
package policy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

const defaultSystemTTL = 300 * time.Second

// SystemStore fetches the platform-wide policy document.
type SystemStore interface {
	LoadSystemPolicy(ctx context.Context) (types.SystemPolicy, error)
}

// UserStore fetches a principal+project's policy document.
type UserStore interface {
	LoadUserPolicy(ctx context.Context, principalID, projectID string) (types.UserPolicy, error)
}

type systemCacheEntry struct {
	policy    types.SystemPolicy
	fetchedAt time.Time
}

// Manager is the Policy Manager.
type Manager struct {
	systemStore SystemStore
	userStore   UserStore
	systemTTL   time.Duration
	cel         *CELEvaluator
	logger      *slog.Logger

	mu         sync.RWMutex
	systemCache *systemCacheEntry
	userCache   map[string]types.UserPolicy // no TTL; purged explicitly
}

// NewManager builds a Manager. systemTTL defaults to 300s when <= 0.
func NewManager(systemStore SystemStore, userStore UserStore, systemTTL time.Duration, cel *CELEvaluator, logger *slog.Logger) *Manager {
	if systemTTL <= 0 {
		systemTTL = defaultSystemTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		systemStore: systemStore,
		userStore:   userStore,
		systemTTL:   systemTTL,
		cel:         cel,
		logger:      logger.With("component", "policy.Manager"),
		userCache:   make(map[string]types.UserPolicy),
	}
}

// LoadSystem returns the system policy, refreshing it when the cache is
// stale or empty.
func (m *Manager) LoadSystem(ctx context.Context) (types.SystemPolicy, error) {
	m.mu.RLock()
	entry := m.systemCache
	m.mu.RUnlock()
	if entry != nil && time.Since(entry.fetchedAt) < m.systemTTL {
		return entry.policy, nil
	}

	p, err := m.systemStore.LoadSystemPolicy(ctx)
	if err != nil {
		return types.SystemPolicy{}, err
	}

	m.mu.Lock()
	m.systemCache = &systemCacheEntry{policy: p, fetchedAt: time.Now().UTC()}
	m.mu.Unlock()
	return p, nil
}

func userCacheKey(principalID, projectID string) string { return principalID + ":" + projectID }

// LoadUser returns the user policy for (principal, project), fetching
// it once and caching indefinitely until PurgeUser is called.
func (m *Manager) LoadUser(ctx context.Context, principalID, projectID string) (types.UserPolicy, error) {
	key := userCacheKey(principalID, projectID)

	m.mu.RLock()
	p, ok := m.userCache[key]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := m.userStore.LoadUserPolicy(ctx, principalID, projectID)
	if err != nil {
		return types.UserPolicy{}, err
	}

	m.mu.Lock()
	m.userCache[key] = p
	m.mu.Unlock()
	return p, nil
}

// PurgeUser invalidates the cached user policy for (principal, project),
// or the entire user cache when both are empty.
func (m *Manager) PurgeUser(principalID, projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if principalID == "" && projectID == "" {
		m.userCache = make(map[string]types.UserPolicy)
		return
	}
	delete(m.userCache, userCacheKey(principalID, projectID))
}

// PurgeSystem forces the next LoadSystem to refetch.
func (m *Manager) PurgeSystem() {
	m.mu.Lock()
	m.systemCache = nil
	m.mu.Unlock()
}
