// Package guard implements an emergency stop mechanism checked as step
// zero of the Decision Engine pipeline, ahead of structural validation
// and any policy evaluation. Once triggered it cannot be bypassed by
// anything downstream — no policy rule, risk score, or adjudicator
// verdict is consulted once a guard is armed against the request's
// principal, project, or the whole platform.
package guard

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Scope determines what a trigger affects.
type Scope string

const (
	ScopeGlobal    Scope = "global"
	ScopePrincipal Scope = "principal"
	ScopeProject   Scope = "project"
)

// TriggerRecord records who/what triggered a stop and when.
type TriggerRecord struct {
	Scope     Scope     `json:"scope"`
	TargetID  string    `json:"target_id,omitempty"`
	Reason    string    `json:"reason"`
	Source    string    `json:"source"` // api, cli, dashboard, file
	Timestamp time.Time `json:"timestamp"`
}

// Guard is the emergency stop. It is checked on every request; the
// check must be fast and side-effect-free.
type Guard struct {
	mu sync.RWMutex

	globalTriggered bool
	principalKills  map[string]TriggerRecord
	projectKills    map[string]TriggerRecord
	history         []TriggerRecord

	fileWatchPath string
	logger        *slog.Logger
}

// New builds a Guard. fileWatchPath, if non-empty, is the location of a
// sentinel STOP file whose presence trips the global guard.
func New(fileWatchPath string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		principalKills: make(map[string]TriggerRecord),
		projectKills:   make(map[string]TriggerRecord),
		fileWatchPath:  fileWatchPath,
		logger:         logger.With("component", "guard"),
	}
}

// IsBlocked reports whether a request for (principalID, projectID)
// should be stopped, and why.
func (g *Guard) IsBlocked(principalID, projectID string) (bool, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.globalTriggered {
		return true, "global guard activated"
	}
	if record, ok := g.principalKills[principalID]; ok {
		return true, fmt.Sprintf("principal guard activated: %s", record.Reason)
	}
	if record, ok := g.projectKills[projectID]; ok {
		return true, fmt.Sprintf("project guard activated: %s", record.Reason)
	}
	return false, ""
}

// TriggerGlobal stops every request across every principal and project.
func (g *Guard) TriggerGlobal(reason, source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.globalTriggered = true
	record := TriggerRecord{Scope: ScopeGlobal, Reason: reason, Source: source, Timestamp: time.Now().UTC()}
	g.history = append(g.history, record)
	g.logger.Error("global guard triggered", "reason", reason, "source", source)
}

// TriggerPrincipal stops every request from principalID.
func (g *Guard) TriggerPrincipal(principalID, reason, source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record := TriggerRecord{Scope: ScopePrincipal, TargetID: principalID, Reason: reason, Source: source, Timestamp: time.Now().UTC()}
	g.principalKills[principalID] = record
	g.history = append(g.history, record)
	g.logger.Error("principal guard triggered", "principal_id", principalID, "reason", reason, "source", source)
}

// TriggerProject stops every request against projectID.
func (g *Guard) TriggerProject(projectID, reason, source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	record := TriggerRecord{Scope: ScopeProject, TargetID: projectID, Reason: reason, Source: source, Timestamp: time.Now().UTC()}
	g.projectKills[projectID] = record
	g.history = append(g.history, record)
	g.logger.Error("project guard triggered", "project_id", projectID, "reason", reason, "source", source)
}

// ResetGlobal disarms the global guard.
func (g *Guard) ResetGlobal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.globalTriggered = false
	g.logger.Info("global guard reset")
}

// ResetPrincipal disarms the guard for a specific principal.
func (g *Guard) ResetPrincipal(principalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.principalKills, principalID)
	g.logger.Info("principal guard reset", "principal_id", principalID)
}

// ResetProject disarms the guard for a specific project.
func (g *Guard) ResetProject(projectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.projectKills, projectID)
	g.logger.Info("project guard reset", "project_id", projectID)
}

// Status reports the current state of all guards, for the dashboard/CLI.
func (g *Guard) Status() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()

	principalKills := make(map[string]TriggerRecord, len(g.principalKills))
	for k, v := range g.principalKills {
		principalKills[k] = v
	}
	projectKills := make(map[string]TriggerRecord, len(g.projectKills))
	for k, v := range g.projectKills {
		projectKills[k] = v
	}

	return map[string]any{
		"global_triggered": g.globalTriggered,
		"principal_kills":  principalKills,
		"project_kills":    projectKills,
		"history_count":    len(g.history),
	}
}

// History returns the full trigger history.
func (g *Guard) History() []TriggerRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]TriggerRecord, len(g.history))
	copy(out, g.history)
	return out
}

// CheckFileTrigger checks for a sentinel STOP file and trips the global
// guard if found. Call this periodically from a background loop.
func (g *Guard) CheckFileTrigger() {
	if g.fileWatchPath == "" {
		return
	}
	if _, err := os.Stat(g.fileWatchPath); err == nil {
		g.mu.RLock()
		already := g.globalTriggered
		g.mu.RUnlock()
		if !already {
			g.TriggerGlobal("STOP sentinel file detected", "file")
		}
	}
}
