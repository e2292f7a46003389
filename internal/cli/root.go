// Package cli implements the multiagent command-line interface using
// Cobra. serve and worker run daemons; the rest are thin clients that
// talk to a running orchestrator over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "multiagent",
	Short: "Distributed multi-agent task orchestration",
	Long: `multiagent decomposes tasks into capability-tagged subtask DAGs,
dispatches them to live workers, and folds the results back together.

Run 'multiagent serve' for the orchestrator, 'multiagent worker' for an
execution node, and 'multiagent submit' to hand it work.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	// Same convention as the reference deployment: secrets like
	// ANTHROPIC_API_KEY live in a local .env during development.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
