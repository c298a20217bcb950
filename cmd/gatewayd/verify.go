package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentwarden/gateway/internal/audit"
)

func newVerifyCmd(configFile *string) *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a request's audit hash-chain integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(*configFile, requestID)
		},
	}
	cmd.Flags().StringVar(&requestID, "request-id", "", "Request ID to verify (required)")
	cmd.MarkFlagRequired("request-id")
	return cmd
}

func runVerify(configFile, requestID string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	auditLog, err := audit.NewLogger(cfg.Audit.Dir)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	ok, brokenAt, err := auditLog.VerifyIntegrity(requestID)
	if err != nil {
		return fmt.Errorf("verify %s: %w", requestID, err)
	}
	if ok {
		fmt.Printf("✓ Hash chain intact for request %s\n", requestID)
		return nil
	}
	fmt.Printf("✗ Hash chain broken for request %s at event index %d\n", requestID, brokenAt)
	return nil
}
