package refstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentwarden/gateway/internal/types"
)

// SaveSystemPolicy upserts the single platform-wide policy row, used by
// the CLI's init/admin paths and by tests seeding fixtures.
func (s *SQLiteStore) SaveSystemPolicy(ctx context.Context, sp types.SystemPolicy) error {
	denyProviders, err := json.Marshal(sp.DenyProviders)
	if err != nil {
		return fmt.Errorf("refstore: encode deny_providers: %w", err)
	}
	denyModels, err := json.Marshal(sp.DenyModels)
	if err != nil {
		return fmt.Errorf("refstore: encode deny_models: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO system_policy (id, deny_providers, deny_models, abs_per_request_cap, abs_daily_cap, retention_days)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET deny_providers = excluded.deny_providers, deny_models = excluded.deny_models,
			abs_per_request_cap = excluded.abs_per_request_cap, abs_daily_cap = excluded.abs_daily_cap,
			retention_days = excluded.retention_days`,
		string(denyProviders), string(denyModels), sp.AbsPerRequestCap, sp.AbsDailyCap, sp.RetentionDays)
	if err != nil {
		return fmt.Errorf("refstore: save system policy: %w", err)
	}
	return nil
}

// SavePrincipal upserts a principal's policy and static attributes.
func (s *SQLiteStore) SavePrincipal(ctx context.Context, pc types.PrincipalContext) error {
	knownAgents, err := json.Marshal(pc.KnownAgents)
	if err != nil {
		return fmt.Errorf("refstore: encode known_agents: %w", err)
	}
	policy, err := json.Marshal(pc.Policy)
	if err != nil {
		return fmt.Errorf("refstore: encode policy: %w", err)
	}
	verified := 0
	if pc.Verified {
		verified = 1
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO principals (principal_id, project_id, account_status, verified, known_agents, policy)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(principal_id, project_id) DO UPDATE SET account_status = excluded.account_status,
			verified = excluded.verified, known_agents = excluded.known_agents, policy = excluded.policy`,
		pc.PrincipalID, pc.ProjectID, pc.AccountStatus, verified, string(knownAgents), string(policy))
	if err != nil {
		return fmt.Errorf("refstore: save principal: %w", err)
	}
	return nil
}

// SavePricing upserts a (provider, model) pricing row.
func (s *SQLiteStore) SavePricing(ctx context.Context, p types.Pricing) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("refstore: encode pricing: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO pricing (provider, model, data) VALUES (?, ?, ?)
		ON CONFLICT(provider, model) DO UPDATE SET data = excluded.data`, p.Provider, p.Model, string(data))
	if err != nil {
		return fmt.Errorf("refstore: save pricing: %w", err)
	}
	return nil
}

// SaveBaseline upserts a principal/project behavioral baseline.
func (s *SQLiteStore) SaveBaseline(ctx context.Context, b types.Baseline) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("refstore: encode baseline: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO baselines (principal_id, project_id, data, valid_until) VALUES (?, ?, ?, ?)
		ON CONFLICT(principal_id, project_id) DO UPDATE SET data = excluded.data, valid_until = excluded.valid_until`,
		b.PrincipalID, b.ProjectID, string(data), b.ValidUntil)
	if err != nil {
		return fmt.Errorf("refstore: save baseline: %w", err)
	}
	return nil
}
