package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/internal/planner"
	"github.com/kestrelworks/conductor/internal/selector"
	"github.com/kestrelworks/conductor/pkg/models"
)

var planCmd = &cobra.Command{
	Use:   "plan <batch.yaml>",
	Short: "Plan a batch without executing it",
	Long: `Select workers for every task in the batch file and print the
resulting execution plan: phases, worker assignments, the critical
path, and duration and cost estimates.

Nothing is dispatched; use 'conductor run' to execute the plan.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
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

	tasks, err := loadBatch(args[0])
	if err != nil {
		return err
	}

	sel := selector.New(reg, selector.WithWeights(cfg.Selection.Weights))
	var assignments []*models.Assignment
	for _, task := range tasks {
		selected, err := sel.Select(task, selector.Constraints{})
		if err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
		assignments = append(assignments, selected...)
	}

	plan, err := planner.New().Plan(assignments)
	if err != nil {
		return err
	}

	printPlan(tasks, plan)
	return nil
}

func printPlan(tasks []*models.Task, plan *models.Plan) {
	fmt.Printf("%d tasks, %d assignments in %d phases\n\n",
		len(tasks), plan.AssignmentCount(), len(plan.Phases))

	for _, phase := range plan.Phases {
		fmt.Printf("%s\n", color.CyanString("phase %d", phase.Index))
		for _, a := range phase.Assignments {
			fmt.Printf("  %s → %s  (est %.0fs, $%.2f)\n",
				a.TaskID, a.WorkerID, a.EstimatedDuration, a.EstimatedCost)
		}
	}

	fmt.Printf("\ncritical path: ")
	for i, id := range plan.CriticalPath {
		if i > 0 {
			fmt.Print(" > ")
		}
		fmt.Print(id)
	}
	fmt.Printf("\nestimated duration: %.0fs  cost: $%.2f  peak concurrency: %d\n",
		plan.TotalDuration, plan.TotalCost, plan.MaxConcurrency)
}
