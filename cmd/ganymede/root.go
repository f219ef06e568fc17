package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ganymede",
	Short: "Ganymede - priority-based rule engine",
	Long: `Ganymede is a rule engine that evaluates prioritized condition/action
rules against structured execution contexts.

It provides:
  - Sandboxed CEL condition expressions over context data
  - Priority-ordered rule evaluation with per-run condition caching
  - Action execution with configurable retry and timeout handling
  - Concurrent execution of rules with disjoint write sets
  - Execution metrics with threshold alerting
  - A durable audit trail of rule activity

For more information, visit: https://github.com/mercator-hq/ganymede`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
