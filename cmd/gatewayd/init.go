package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentwarden/gateway/internal/config"
	"github.com/agentwarden/gateway/internal/refstore"
	"github.com/agentwarden/gateway/internal/types"
)

func newInitCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config and seed reference data",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configFile
			if path == "" {
				path = "gateway.yaml"
			}
			return runInit(path)
		},
	}
}

func runInit(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
	} else {
		if err := config.GenerateDefault(configPath); err != nil {
			return fmt.Errorf("generate config: %w", err)
		}
		fmt.Printf("  ✓ Generated %s\n", configPath)
	}

	loader := config.NewLoader()
	if err := loader.Load(configPath); err != nil {
		return fmt.Errorf("load generated config: %w", err)
	}
	cfg := loader.Get()

	store, err := refstore.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	if err := store.Initialize(); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	fmt.Printf("  ✓ Initialized reference store at %s\n", cfg.Storage.Path)

	if err := seedDemoData(store); err != nil {
		return fmt.Errorf("seed reference data: %w", err)
	}
	fmt.Println("  ✓ Seeded demo principal, system policy, pricing, and baseline")

	if err := os.MkdirAll(cfg.Audit.Dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	fmt.Printf("  ✓ Created %s/\n", cfg.Audit.Dir)

	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    gatewayd serve --requests requests.jsonl   # Run requests through the pipeline")
	fmt.Println("    gatewayd verify --request-id <id>          # Check audit hash-chain integrity")
	fmt.Println("    gatewayd report --principal demo-principal --from 2026-01-01 --to 2026-12-31")
	return nil
}

// seedDemoData populates the reference store with the demo principal
// (demo-principal/demo-project) and pricing rows that request files
// passed to gatewayd serve --requests can be written against.
func seedDemoData(store *refstore.SQLiteStore) error {
	ctx := context.Background()

	if err := store.SaveSystemPolicy(ctx, types.SystemPolicy{RetentionDays: 90}); err != nil {
		return err
	}

	principal := types.PrincipalContext{
		PrincipalID:   "demo-principal",
		ProjectID:     "demo-project",
		AccountStatus: "active",
		Verified:      true,
		KnownAgents:   []string{"demo-agent"},
		Policy: types.UserPolicy{
			AllowedProviders:         []string{"openai"},
			AllowedModels:            map[string][]string{"openai": {"gpt-4o-mini"}},
			PerRequestLimit:          5,
			DailyLimit:               50,
			MonthlyLimit:             500,
			MaxRiskScore:             9,
			AutoApproveRiskThreshold: 0.5,
			IsActive:                 true,
			UpdatedAt:                time.Now().UTC(),
		},
	}
	if err := store.SavePrincipal(ctx, principal); err != nil {
		return err
	}

	pricing := types.Pricing{
		Provider:        "openai",
		Model:           "gpt-4o-mini",
		Mode:            types.PricingTokenBased,
		InputRatePer1K:  0.00015,
		OutputRatePer1K: 0.0006,
		ContextLimit:    128_000,
		FetchedAt:       time.Now().UTC(),
	}
	if err := store.SavePricing(ctx, pricing); err != nil {
		return err
	}

	baseline := types.Baseline{
		PrincipalID:            principal.PrincipalID,
		ProjectID:              principal.ProjectID,
		AverageRequestCost:     0.01,
		MedianRequestCost:      0.008,
		MaxRequestCost:         0.05,
		AverageRequestsPerDay:  20,
		TypicalProviders:       []string{"openai"},
		TypicalModels:          []string{"openai/gpt-4o-mini"},
		SampleSize:             30,
		ValidFrom:              time.Now().UTC().Add(-30 * 24 * time.Hour),
		ValidUntil:             time.Now().UTC().Add(24 * time.Hour),
	}
	return store.SaveBaseline(ctx, baseline)
}
