package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")

	yamlContent := `
server:
  log_level: debug
  fail_mode: closed

storage:
  driver: sqlite
  path: ./test.db
  retention: 168h

decision:
  fast_tier_cost_cap: 2.5
  fast_tier_risk_cap: 4.0
  deep_tier_escalate_risk_floor: 8.0

adjudicator:
  base_url: https://api.example.com/v1
  model: gpt-4o-mini
  fallback_threshold: 0.9
  timeout: 15s

guard:
  sentinel_file: ./STOP

approval:
  default_timeout: 5m
  default_timeout_effect: approve

audit:
  dir: ./audit-logs

baseline:
  cache_ttl: 2m
  lookback_days: 14
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want \"debug\"", cfg.Server.LogLevel)
	}
	if cfg.Server.FailMode != "closed" {
		t.Errorf("Server.FailMode = %q, want \"closed\"", cfg.Server.FailMode)
	}
	if cfg.Storage.Retention != 168*time.Hour {
		t.Errorf("Storage.Retention = %v, want 168h", cfg.Storage.Retention)
	}
	if cfg.Decision.FastTierCostCap != 2.5 {
		t.Errorf("Decision.FastTierCostCap = %v, want 2.5", cfg.Decision.FastTierCostCap)
	}
	if cfg.Decision.DeepTierEscalateRiskFloor != 8.0 {
		t.Errorf("Decision.DeepTierEscalateRiskFloor = %v, want 8.0", cfg.Decision.DeepTierEscalateRiskFloor)
	}
	if cfg.Adjudicator.Model != "gpt-4o-mini" {
		t.Errorf("Adjudicator.Model = %q, want \"gpt-4o-mini\"", cfg.Adjudicator.Model)
	}
	if cfg.Adjudicator.Timeout != 15*time.Second {
		t.Errorf("Adjudicator.Timeout = %v, want 15s", cfg.Adjudicator.Timeout)
	}
	if cfg.Guard.SentinelFile != "./STOP" {
		t.Errorf("Guard.SentinelFile = %q, want \"./STOP\"", cfg.Guard.SentinelFile)
	}
	if cfg.Approval.DefaultTimeoutEffect != "approve" {
		t.Errorf("Approval.DefaultTimeoutEffect = %q, want \"approve\"", cfg.Approval.DefaultTimeoutEffect)
	}
	if cfg.Audit.Dir != "./audit-logs" {
		t.Errorf("Audit.Dir = %q, want \"./audit-logs\"", cfg.Audit.Dir)
	}
	if cfg.Baseline.LookbackDays != 14 {
		t.Errorf("Baseline.LookbackDays = %d, want 14", cfg.Baseline.LookbackDays)
	}

	if loader.FilePath() != configPath {
		t.Errorf("FilePath() = %q, want %q", loader.FilePath(), configPath)
	}
}

func TestLoader_DefaultConfigBeforeLoad(t *testing.T) {
	loader := NewLoader()
	if loader.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty before Load", loader.FilePath())
	}
	cfg := loader.Get()
	if cfg.Decision.FastTierCostCap != DefaultConfig().Decision.FastTierCostCap {
		t.Errorf("Get() before Load should return DefaultConfig values")
	}
}

func TestLoader_LoadNonexistentFile(t *testing.T) {
	loader := NewLoader()
	if err := loader.Load("/nonexistent/gateway.yaml"); err == nil {
		t.Fatal("expected error loading nonexistent file")
	}
}

func TestLoader_LoadUnknownFieldRejected(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")
	// max_request_cost is not part of the canonical schema.
	yamlContent := `
decision:
  max_request_cost: 5.0
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	err := loader.Load(configPath)
	if err == nil {
		t.Fatal("expected schema error for unknown field")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  log_level: [unterminated"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err == nil {
		t.Fatal("expected error loading invalid YAML")
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  log_level: info\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loader.Get().Server.LogLevel != "info" {
		t.Fatalf("expected log_level info after initial load")
	}

	if err := os.WriteFile(configPath, []byte("server:\n  log_level: debug\n"), 0644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}
	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if loader.Get().Server.LogLevel != "debug" {
		t.Errorf("expected log_level debug after Reload()")
	}
}

func TestLoader_ReloadBeforeLoad(t *testing.T) {
	loader := NewLoader()
	if err := loader.Reload(); err == nil {
		t.Fatal("expected error reloading before Load")
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("GATEWAY_TEST_VAR", "sk-live-123")
	defer os.Unsetenv("GATEWAY_TEST_VAR")

	in := "api_key: ${GATEWAY_TEST_VAR}\nmodel: ${GATEWAY_TEST_MODEL:-gpt-4o-mini}\nunset: ${GATEWAY_TEST_UNSET}"
	out := substituteEnvVars(in)

	want := "api_key: sk-live-123\nmodel: gpt-4o-mini\nunset: "
	if out != want {
		t.Errorf("substituteEnvVars() = %q, want %q", out, want)
	}
}

func TestLoader_GenerateDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")

	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(path); err != nil {
		t.Fatalf("Load() generated config error: %v", err)
	}
	cfg := loader.Get()
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("generated config Storage.Driver = %q, want \"sqlite\"", cfg.Storage.Driver)
	}
}
