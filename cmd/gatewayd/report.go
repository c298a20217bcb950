package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentwarden/gateway/internal/audit"
	"github.com/agentwarden/gateway/internal/types"
)

func newReportCmd(configFile *string) *cobra.Command {
	var principalID, projectID, from, to string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a compliance report for a principal over a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(*configFile, principalID, projectID, from, to)
		},
	}
	cmd.Flags().StringVar(&principalID, "principal", "", "Principal ID (required)")
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID (optional, narrows the report)")
	cmd.Flags().StringVar(&from, "from", "", "Start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&to, "to", "", "End date, YYYY-MM-DD (required)")
	cmd.MarkFlagRequired("principal")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func runReport(configFile, principalID, projectID, fromStr, toStr string) error {
	report, err := buildReport(configFile, principalID, projectID, fromStr, toStr)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// buildReport loads the audit trail and aggregates a ComplianceReport,
// separated from runReport's stdout encoding so callers (tests included)
// can assert on the resulting counts directly.
func buildReport(configFile, principalID, projectID, fromStr, toStr string) (types.ComplianceReport, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return types.ComplianceReport{}, err
	}

	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return types.ComplianceReport{}, fmt.Errorf("parse --from: %w", err)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return types.ComplianceReport{}, fmt.Errorf("parse --to: %w", err)
	}
	to = to.Add(24*time.Hour - time.Nanosecond) // inclusive end of day

	auditLog, err := audit.NewLogger(cfg.Audit.Dir)
	if err != nil {
		return types.ComplianceReport{}, fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	report, err := auditLog.ComplianceReport(principalID, projectID, from, to)
	if err != nil {
		return types.ComplianceReport{}, fmt.Errorf("build compliance report: %w", err)
	}
	return report, nil
}
