package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/internal/coordinator"
	"github.com/kestrelworks/conductor/internal/executor"
	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/selector"
	"github.com/kestrelworks/conductor/pkg/models"
)

var (
	runWorkDir     string
	runArtifactDir string
	runQuiet       bool
	runDebugLog    string
)

var runCmd = &cobra.Command{
	Use:   "run <batch.yaml>",
	Short: "Execute a batch of tasks",
	Long: `Execute a batch: select workers, plan dependency-ordered phases,
and dispatch assignments to command-backed workers.

Each assignment's artifact passes through the worker's validate command
before acceptance. Rejected work is retried with the validator's
feedback; work that exhausts its retry budget is escalated to the
escalation file with its full attempt history rather than silently
dropped.

Interrupt with Ctrl-C to cancel: in-flight assignments finish their
current attempt, later phases are not started, and completed work is
kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Working directory for worker commands")
	runCmd.Flags().StringVar(&runArtifactDir, "artifacts", "", "Directory for artifacts (default: .conductor/artifacts)")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "Suppress per-assignment progress output")
	runCmd.Flags().StringVar(&runDebugLog, "debug-log", "", "Write debug logs to this file")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runDebugLog != "" {
		logger, err := coordinator.NewDebugLogger(runDebugLog)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer logger.Close()
		coordinator.SetPackageLogger(logger)
	}

	db, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	if recovered, err := db.RecoverInterruptedBatches(); err != nil {
		return fmt.Errorf("recover interrupted batches: %w", err)
	} else if len(recovered) > 0 {
		fmt.Printf("%s marked %d interrupted batch(es) as failed\n",
			color.YellowString("⚠"), len(recovered))
	}

	reg, err := buildRegistry(cfg, db)
	if err != nil {
		return err
	}

	// Hot-reload the catalog during long batches when configured
	if path := catalogPath(cfg); cfg.Catalog.Watch && path != "" {
		watcher, err := registry.NewWatcher(reg, path)
		if err != nil {
			return fmt.Errorf("watch catalog: %w", err)
		}
		defer watcher.Close()
	}

	tasks, err := loadBatch(args[0])
	if err != nil {
		return err
	}

	artifactDir := runArtifactDir
	if artifactDir == "" {
		artifactDir = filepath.Join(".conductor", "artifacts")
	}

	exe := executor.NewCommandExecutor(reg, artifactDir)
	exe.SetWorkDir(runWorkDir)
	validator := executor.NewCommandValidator(reg)
	validator.SetWorkDir(runWorkDir)
	sink := executor.NewFileSink(filepath.Join(".conductor", "escalations.jsonl"))

	coord := coordinator.New(coordinator.Config{
		Registry:          reg,
		Executor:          exe,
		Validator:         validator,
		Sink:              sink,
		Store:             db,
		Selector:          selector.New(reg, selector.WithWeights(cfg.Selection.Weights)),
		MaxInFlight:       cfg.Execution.MaxInFlight,
		MaxRetries:        cfg.Execution.MaxRetries,
		AssignmentTimeout: cfg.Execution.AssignmentTimeout,
	})

	// Ctrl-C cancels the batch; completed phases are kept
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Printf("\n%s cancelling batch...\n", color.YellowString("⚠"))
		cancel()
	}()

	if !runQuiet {
		go printEvents(coord.Events())
	}

	report, err := coord.Run(ctx, tasks)
	if err != nil {
		fmt.Printf("%s planning failed: %s\n", color.RedString("✗"), report.PlanningError)
		return err
	}

	// Persist updated performance windows for the next run
	if err := db.SaveRegistry(reg); err != nil {
		fmt.Printf("%s saving worker state: %v\n", color.YellowString("⚠"), err)
	}

	printReport(report)
	if report.Status != models.BatchCompleted {
		os.Exit(1)
	}
	return nil
}

func printEvents(events <-chan coordinator.Event) {
	for ev := range events {
		switch ev.Type {
		case coordinator.EventPhaseStarted:
			fmt.Printf("%s phase %d: %s\n", color.CyanString("▶"), ev.Phase, ev.Message)
		case coordinator.EventAssignmentAccepted:
			fmt.Printf("  %s %s (%s)\n", color.GreenString("✓"), ev.TaskID, ev.WorkerID)
		case coordinator.EventAssignmentEscalated:
			fmt.Printf("  %s %s escalated (%s)\n", color.RedString("✗"), ev.TaskID, ev.WorkerID)
		case coordinator.EventAssignmentSkipped:
			fmt.Printf("  %s %s skipped: %s\n", color.YellowString("-"), ev.TaskID, ev.Message)
		case coordinator.EventAssignmentFailed:
			fmt.Printf("  %s %s failed: %s\n", color.RedString("✗"), ev.TaskID, ev.Message)
		}
	}
}

func printReport(r *models.Report) {
	var status string
	switch r.Status {
	case models.BatchCompleted:
		status = color.GreenString(string(r.Status))
	case models.BatchEscalated, models.BatchCancelled:
		status = color.YellowString(string(r.Status))
	default:
		status = color.RedString(string(r.Status))
	}

	fmt.Printf("\nbatch %s: %s\n", r.BatchID, status)
	for _, o := range r.Outcomes {
		fmt.Printf("  %-12s %-10s attempts=%d", o.TaskID, o.Status, o.Attempts)
		if o.ArtifactRef != "" {
			fmt.Printf("  %s", o.ArtifactRef)
		}
		if o.Error != "" {
			fmt.Printf("  %s", o.Error)
		}
		fmt.Println()
	}
	fmt.Printf("total cost: $%.2f  duration: %s\n",
		r.TotalCost, r.FinishedAt.Sub(r.StartedAt).Round(100*time.Millisecond))
}
