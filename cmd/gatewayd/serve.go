package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentwarden/gateway/internal/audit"
	"github.com/agentwarden/gateway/internal/config"
	"github.com/agentwarden/gateway/internal/refstore"
	"github.com/agentwarden/gateway/internal/types"
)

func newServeCmd(configFile *string) *cobra.Command {
	var requestsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a batch of requests through the Decision Engine pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configFile, requestsPath)
		},
	}
	cmd.Flags().StringVar(&requestsPath, "requests", "", "Path to a newline-delimited JSON file of requests (required)")
	cmd.MarkFlagRequired("requests")
	return cmd
}

func runServe(configFile, requestsPath string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)

	store, err := refstore.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	if err := store.Initialize(); err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}

	auditLog, err := audit.NewLogger(cfg.Audit.Dir)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	eng, err := buildEngine(cfg, store, auditLog, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	f, err := os.Open(requestsPath)
	if err != nil {
		return fmt.Errorf("open requests file: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req types.Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			logger.Error("skipping malformed request line", "line", lineNo, "error", err)
			continue
		}

		outcome := eng.Process(ctx, req)
		if outcome.Reservation != nil {
			req.RequestID = outcome.Decision.RequestID
			actualCost, execErr := simulateUpstreamCall(outcome.Reservation.EstimatedAmount)
			if _, err := eng.Settle(ctx, req, *outcome.Reservation, actualCost, req.Provider, execErr); err != nil {
				logger.Warn("settlement failed", "request_id", outcome.Decision.RequestID, "error", err)
			}
		}

		if err := enc.Encode(outcome.Decision); err != nil {
			return fmt.Errorf("encode decision: %w", err)
		}
	}
	return scanner.Err()
}

// simulateUpstreamCall stands in for the out-of-scope real provider
// call: it jitters the reserved estimate by up to 20% and, rarely,
// fails outright, so gatewayd serve exercises Settle's variance and
// failure paths without a network dependency.
func simulateUpstreamCall(estimatedAmount float64) (actualCost float64, err error) {
	if rand.Float64() < 0.02 {
		return 0, fmt.Errorf("simulated upstream call failure")
	}
	jitter := 1.0 + (rand.Float64()*0.4 - 0.2)
	return estimatedAmount * jitter, nil
}

func loadConfig(configFile string) (config.Config, error) {
	if configFile == "" {
		configFile = findConfigFile()
	}
	loader := config.NewLoader()
	if configFile == "" {
		return loader.Get(), nil
	}
	if err := loader.Load(configFile); err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return loader.Get(), nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
