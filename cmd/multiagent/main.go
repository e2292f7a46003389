// Package main is the single-binary entrypoint for the multi-agent
// orchestrator: the coordinator daemon, workers, and the task CLI all
// live behind one executable.
package main

import "github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
