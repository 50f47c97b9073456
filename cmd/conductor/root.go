package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Capability-based task orchestration",
	Long: `Conductor routes batches of tasks to registered workers based on
declared capabilities, recent performance, current load, and cost.

A batch is planned into dependency-ordered phases, dispatched with a
bounded level of parallelism, and every produced artifact passes through
a validation loop before it is accepted. Work that keeps failing
validation is escalated with its full attempt history instead of being
retried forever.

Core capabilities:
- Indexed worker registry with rolling performance windows
- Weighted worker selection with deterministic tie-breaking
- Cycle-rejecting dependency planning with critical-path estimates
- Phase-barrier dispatch with per-assignment retry budgets
- Persistent execution reports for audit and recovery`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportsCmd)
}
