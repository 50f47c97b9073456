package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/pkg/models"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List registered workers and capability coverage",
	Long: `List the workers conductor knows about, with their declared
capabilities, parallelism limits, and recent performance.

Workers come from the persisted state database plus the configured
catalog file. Capability gaps (capabilities recent batches asked for
but nothing declares) are shown at the end.`,
	RunE: runWorkers,
}

func runWorkers(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	reg, err := buildRegistry(cfg, db)
	if err != nil {
		return err
	}

	snaps := reg.Snapshot()
	fmt.Printf("%d registered workers:\n\n", len(snaps))
	for _, snap := range snaps {
		w := snap.Worker
		fmt.Printf("  %s  %s\n", color.CyanString(w.ID), w.Name)
		fmt.Printf("    capabilities: %v\n", w.Capabilities)
		if len(w.Requires) > 0 {
			fmt.Printf("    requires: %v\n", w.Requires)
		}
		fmt.Printf("    parallel: %d  cost/task: $%.2f\n", w.MaxParallel, w.CostPerTask)
		if w.Performance.Samples > 0 {
			rate := fmt.Sprintf("%.0f%%", w.Performance.SuccessRate*100)
			if w.Performance.SuccessRate >= 0.9 {
				rate = color.GreenString(rate)
			} else if w.Performance.SuccessRate < 0.5 {
				rate = color.RedString(rate)
			}
			fmt.Printf("    success: %s over %d runs, p95 %.0fs\n",
				rate, w.Performance.Samples, w.Performance.P95Duration)
		} else {
			fmt.Printf("    success: %s\n", color.YellowString("no history"))
		}
		fmt.Println()
	}

	printStats(reg.Stats())
	return nil
}

func printStats(stats registry.Stats) {
	caps := make([]models.Capability, 0, len(stats.Coverage))
	for c := range stats.Coverage {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	fmt.Printf("capability coverage:\n")
	for _, c := range caps {
		fmt.Printf("  %s: %d\n", c, stats.Coverage[c])
	}
	if len(stats.Gaps) > 0 {
		fmt.Printf("\n%s uncovered capabilities:\n", color.YellowString("⚠"))
		for _, c := range stats.Gaps {
			fmt.Printf("  %s\n", c)
		}
	}
}
