package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kestrelworks/conductor/pkg/models"
)

var reportsStatus string
var reportsJSON bool

var reportsCmd = &cobra.Command{
	Use:   "reports [batch-id]",
	Short: "Show past execution reports",
	Long: `List persisted execution reports, or show one batch in detail.

With no arguments, lists recent batches newest first. With a batch ID,
prints that batch's full report including per-task outcomes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReports,
}

func init() {
	reportsCmd.Flags().StringVar(&reportsStatus, "status", "", "Filter by status (completed, failed, escalated, cancelled)")
	reportsCmd.Flags().BoolVar(&reportsJSON, "json", false, "Print the full report as JSON")
}

func runReports(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openState(cfg)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	if len(args) == 1 {
		report, err := db.GetReport(args[0])
		if err != nil {
			return err
		}
		if report == nil {
			return fmt.Errorf("no report for batch %s", args[0])
		}
		if reportsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printReport(report)
		return nil
	}

	var filter *models.BatchStatus
	if reportsStatus != "" {
		status := models.BatchStatus(reportsStatus)
		filter = &status
	}

	reports, err := db.ListReports(filter)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("no reports yet")
		return nil
	}

	for _, r := range reports {
		status := string(r.Status)
		switch r.Status {
		case models.BatchCompleted:
			status = color.GreenString(status)
		case models.BatchFailed:
			status = color.RedString(status)
		default:
			status = color.YellowString(status)
		}
		fmt.Printf("%s  %s  %d outcomes  $%.2f  %s\n",
			r.BatchID, status, len(r.Outcomes), r.TotalCost,
			r.StartedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
