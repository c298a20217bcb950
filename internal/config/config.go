// Package config defines the gateway's canonical configuration schema
// and loads it from YAML, with ${VAR} / ${VAR:-default} environment
// substitution and fsnotify-driven hot reload of the running config.
package config

import "time"

// Config is the top-level gateway configuration. This is the one
// canonical schema: a file using an alternate field set (e.g.
// max_request_cost instead of decision.fast_tier_cost_cap) is rejected
// by the YAML decoder's strict unknown-field mode rather than coerced.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Decision    DecisionConfig    `yaml:"decision"`
	Adjudicator AdjudicatorConfig `yaml:"adjudicator"`
	Guard       GuardConfig       `yaml:"guard"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Audit       AuditConfig       `yaml:"audit"`
	Baseline    BaselineConfig    `yaml:"baseline"`
}

// ServerConfig controls process-wide behavior not specific to any one
// pipeline step.
type ServerConfig struct {
	LogLevel string `yaml:"log_level"`
	// FailMode is parsed and defaults to "closed". The Decision Engine
	// does not read it: a pipeline step error always ends the request as
	// REJECTED or ERROR, whatever the value.
	FailMode string `yaml:"fail_mode"`
}

// StorageConfig configures the reference UpstreamStore.
type StorageConfig struct {
	Driver    string        `yaml:"driver"` // currently only "sqlite"
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// DecisionConfig holds the Decision Engine's tunable thresholds.
type DecisionConfig struct {
	// FastTierCostCap is the USD estimated-cost ceiling under which a
	// request is eligible for FAST-tier routing (spec §4.1 step 8).
	FastTierCostCap float64 `yaml:"fast_tier_cost_cap"`
	// FastTierRiskCap is the risk-score ceiling for the same check.
	FastTierRiskCap float64 `yaml:"fast_tier_risk_cap"`
	// DeepTierEscalateRiskFloor is the risk score at or above which an
	// approved adjudicator verdict (FAST or DEEP tier) goes to the
	// escalation queue instead of being approved outright. A verdict whose
	// confidence is below the policy's AutoApproveRiskThreshold is
	// escalated too, whatever its risk score.
	DeepTierEscalateRiskFloor float64 `yaml:"deep_tier_escalate_risk_floor"`
}

// AdjudicatorConfig configures the OpenAI-compatible chat endpoint used
// by the Tier Evaluator.
type AdjudicatorConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Model             string        `yaml:"model"`
	FallbackThreshold float64       `yaml:"fallback_threshold"`
	Timeout           time.Duration `yaml:"timeout"`
}

// GuardConfig configures the emergency-stop sentinel.
type GuardConfig struct {
	SentinelFile string `yaml:"sentinel_file"`
}

// ApprovalConfig configures default escalation-queue behavior and the
// channels notified when a decision is parked for human review.
type ApprovalConfig struct {
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	DefaultTimeoutEffect string        `yaml:"default_timeout_effect"` // approve, reject
	Slack                SlackConfig   `yaml:"slack"`
	Webhook              WebhookConfig `yaml:"webhook"`
}

// SlackConfig configures the Slack escalation notifier.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// WebhookConfig configures the generic HMAC-signed escalation webhook.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// AuditConfig configures the append-only audit log.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// BaselineConfig configures the Baseline Tracker's cache.
type BaselineConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	LookbackDays int           `yaml:"lookback_days"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: "info",
			FailMode: "closed",
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			Path:      "./gateway.db",
			Retention: 90 * 24 * time.Hour,
		},
		Decision: DecisionConfig{
			FastTierCostCap:           1.0,
			FastTierRiskCap:           5.0,
			DeepTierEscalateRiskFloor: 7.0,
		},
		Adjudicator: AdjudicatorConfig{
			Model:             "gpt-4o-mini",
			FallbackThreshold: 1.0,
			Timeout:           20 * time.Second,
		},
		Guard: GuardConfig{
			SentinelFile: "",
		},
		Approval: ApprovalConfig{
			DefaultTimeout:       10 * time.Minute,
			DefaultTimeoutEffect: "reject",
		},
		Audit: AuditConfig{
			Dir: "./audit",
		},
		Baseline: BaselineConfig{
			CacheTTL:     5 * time.Minute,
			LookbackDays: 30,
		},
	}
}
