package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kestrelworks/conductor/pkg/models"
)

// SaveReport persists an execution report. The full report is stored as
// a JSON payload; the indexed columns exist for querying.
// Satisfies the coordinator's report store.
func (db *DB) SaveReport(r *models.Report) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.BatchID, err)
	}

	var finishedAt any
	if !r.FinishedAt.IsZero() {
		finishedAt = formatTime(r.FinishedAt)
	}

	_, err = db.Exec(`
		INSERT INTO reports (batch_id, status, failure_kind, total_cost, started_at, finished_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id) DO UPDATE SET
			status = excluded.status,
			failure_kind = excluded.failure_kind,
			total_cost = excluded.total_cost,
			finished_at = excluded.finished_at,
			payload = excluded.payload
	`, r.BatchID, string(r.Status), string(r.FailureKind), r.TotalCost,
		formatTime(r.StartedAt), finishedAt, string(payload))
	if err != nil {
		return fmt.Errorf("save report %s: %w", r.BatchID, err)
	}
	return nil
}

// GetReport retrieves a report by batch ID. Returns nil when the batch
// is unknown.
func (db *DB) GetReport(batchID string) (*models.Report, error) {
	row := db.QueryRow("SELECT payload FROM reports WHERE batch_id = ?", batchID)

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", batchID, err)
	}

	var r models.Report
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", batchID, err)
	}
	return &r, nil
}

// ListReports lists persisted reports, newest first, optionally
// filtered by status.
func (db *DB) ListReports(status *models.BatchStatus) ([]*models.Report, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT payload FROM reports WHERE status = ? ORDER BY started_at DESC
		`, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT payload FROM reports ORDER BY started_at DESC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		var r models.Report
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

// RecoverInterruptedBatches marks batches left in a non-terminal status
// by a crashed process as failed. Call once at startup, before any new
// batch runs. Returns the batch IDs that were marked.
func (db *DB) RecoverInterruptedBatches() ([]string, error) {
	rows, err := db.Query(`
		SELECT payload FROM reports WHERE status IN (?, ?)
	`, string(models.BatchPlanning), string(models.BatchDispatching))
	if err != nil {
		return nil, fmt.Errorf("find interrupted batches: %w", err)
	}

	var interrupted []*models.Report
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan interrupted batch: %w", err)
		}
		var r models.Report
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode interrupted batch: %w", err)
		}
		interrupted = append(interrupted, &r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	now := time.Now()
	var ids []string
	for _, r := range interrupted {
		r.Status = models.BatchFailed
		r.FailureKind = models.FailureExecution
		r.PlanningError = ""
		if r.FinishedAt.IsZero() {
			r.FinishedAt = now
		}
		if err := db.SaveReport(r); err != nil {
			return ids, fmt.Errorf("mark batch %s failed: %w", r.BatchID, err)
		}
		ids = append(ids, r.BatchID)
	}
	return ids, nil
}
