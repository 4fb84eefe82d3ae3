// Package main implements the orchd CLI: run a work plan through the
// orchestration loop, validate a plan without running it, or report
// persisted state.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchd",
	Short: "LLM work-item orchestrator",
	Long: `orchd drives a plan of dependent tasks through an external
code-generation agent: it assembles tiered context for each dispatch,
evaluates every response, and retries, escalates, or proceeds based on
quality and confidence scoring.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file path (default ~/.config/orchd/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
}
