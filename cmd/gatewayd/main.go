// Command gatewayd is the autonomous payment-gated API gateway's
// reference CLI: it scaffolds a starter deployment, drives the
// Decision Engine pipeline over a batch of requests, and inspects the
// resulting audit trail. There is no HTTP server here — real upstream
// traffic is out of scope for this repo; gatewayd exercises the
// pipeline end-to-end against an in-process stub provider.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "gatewayd",
		Short: "Autonomous payment-gated API gateway",
		Long:  "gatewayd drives requests through the Decision Engine pipeline: guard, policy, budget, risk, adjudication, and payment reservation.",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: gateway.yaml)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatewayd %s\n", version)
		},
	}

	rootCmd.AddCommand(
		newInitCmd(&configFile),
		newServeCmd(&configFile),
		newVerifyCmd(&configFile),
		newReportCmd(&configFile),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// findConfigFile looks for a gateway.yaml in the current directory
// when the caller did not pass --config.
func findConfigFile() string {
	for _, candidate := range []string{"gateway.yaml", "gateway.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
