package state

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/pkg/models"
)

// SaveWorkerSnapshot upserts a worker row and replaces its performance
// window in one transaction.
func (db *DB) SaveWorkerSnapshot(snap registry.WorkerSnapshot) error {
	w := snap.Worker
	caps, err := marshalList(w.Capabilities)
	if err != nil {
		return fmt.Errorf("save worker %s: %w", w.ID, err)
	}
	requires, err := marshalList(w.Requires)
	if err != nil {
		return fmt.Errorf("save worker %s: %w", w.ID, err)
	}
	languages, err := marshalList(w.Languages)
	if err != nil {
		return fmt.Errorf("save worker %s: %w", w.ID, err)
	}
	frameworks, err := marshalList(w.Frameworks)
	if err != nil {
		return fmt.Errorf("save worker %s: %w", w.ID, err)
	}
	modalities, err := marshalList(w.Modalities)
	if err != nil {
		return fmt.Errorf("save worker %s: %w", w.ID, err)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO workers (id, name, category, capabilities, requires, languages, frameworks, modalities, command, validate_command, max_parallel, cost_per_task, registered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				category = excluded.category,
				capabilities = excluded.capabilities,
				requires = excluded.requires,
				languages = excluded.languages,
				frameworks = excluded.frameworks,
				modalities = excluded.modalities,
				command = excluded.command,
				validate_command = excluded.validate_command,
				max_parallel = excluded.max_parallel,
				cost_per_task = excluded.cost_per_task
		`, w.ID, w.Name, w.Category, caps, requires, languages, frameworks, modalities,
			w.Command, w.ValidateCommand, w.MaxParallel, w.CostPerTask, formatTime(w.RegisteredAt))
		if err != nil {
			return fmt.Errorf("upsert worker %s: %w", w.ID, err)
		}

		if _, err := tx.Exec("DELETE FROM performance_records WHERE worker_id = ?", w.ID); err != nil {
			return fmt.Errorf("clear performance for %s: %w", w.ID, err)
		}
		for _, rec := range snap.Window {
			_, err := tx.Exec(`
				INSERT INTO performance_records (worker_id, success, duration, retries, recorded_at)
				VALUES (?, ?, ?, ?, ?)
			`, w.ID, boolToInt(rec.Success), rec.Duration, rec.Retries, formatTime(rec.RecordedAt))
			if err != nil {
				return fmt.Errorf("insert performance for %s: %w", w.ID, err)
			}
		}
		return nil
	})
}

// DeleteWorker removes a worker and, via the foreign key, its
// performance window.
func (db *DB) DeleteWorker(id string) error {
	_, err := db.Exec("DELETE FROM workers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete worker %s: %w", id, err)
	}
	return nil
}

// LoadWorkerSnapshots reads every persisted worker with its performance
// window, ordered by worker ID.
func (db *DB) LoadWorkerSnapshots() ([]registry.WorkerSnapshot, error) {
	rows, err := db.Query(`
		SELECT id, name, category, capabilities, requires, languages, frameworks, modalities, command, validate_command, max_parallel, cost_per_task, registered_at
		FROM workers ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var snaps []registry.WorkerSnapshot
	for rows.Next() {
		var w models.Worker
		var caps, requires, languages, frameworks, modalities, registeredAt string
		err := rows.Scan(&w.ID, &w.Name, &w.Category, &caps, &requires, &languages,
			&frameworks, &modalities, &w.Command, &w.ValidateCommand, &w.MaxParallel, &w.CostPerTask, &registeredAt)
		if err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if err := unmarshalList(caps, &w.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities for %s: %w", w.ID, err)
		}
		if err := unmarshalList(requires, &w.Requires); err != nil {
			return nil, fmt.Errorf("decode requires for %s: %w", w.ID, err)
		}
		if err := unmarshalList(languages, &w.Languages); err != nil {
			return nil, fmt.Errorf("decode languages for %s: %w", w.ID, err)
		}
		if err := unmarshalList(frameworks, &w.Frameworks); err != nil {
			return nil, fmt.Errorf("decode frameworks for %s: %w", w.ID, err)
		}
		if err := unmarshalList(modalities, &w.Modalities); err != nil {
			return nil, fmt.Errorf("decode modalities for %s: %w", w.ID, err)
		}
		w.RegisteredAt, _ = parseTime(registeredAt)
		snaps = append(snaps, registry.WorkerSnapshot{Worker: &w})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}

	for i := range snaps {
		window, err := db.loadWindow(snaps[i].Worker.ID)
		if err != nil {
			return nil, err
		}
		snaps[i].Window = window
	}
	return snaps, nil
}

// loadWindow reads one worker's performance records in insertion order.
func (db *DB) loadWindow(workerID string) ([]models.PerformanceRecord, error) {
	rows, err := db.Query(`
		SELECT success, duration, retries, recorded_at
		FROM performance_records WHERE worker_id = ? ORDER BY rowid
	`, workerID)
	if err != nil {
		return nil, fmt.Errorf("load performance for %s: %w", workerID, err)
	}
	defer rows.Close()

	var window []models.PerformanceRecord
	for rows.Next() {
		var rec models.PerformanceRecord
		var success int
		var recordedAt string
		if err := rows.Scan(&success, &rec.Duration, &rec.Retries, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan performance for %s: %w", workerID, err)
		}
		rec.Success = success != 0
		rec.RecordedAt, _ = parseTime(recordedAt)
		window = append(window, rec)
	}
	return window, rows.Err()
}

// SaveRegistry persists every worker currently in the registry.
func (db *DB) SaveRegistry(reg *registry.Registry) error {
	for _, snap := range reg.Snapshot() {
		if err := db.SaveWorkerSnapshot(snap); err != nil {
			return err
		}
	}
	return nil
}

// RestoreRegistry loads persisted workers into the registry. Load
// counters always restart at zero; only identity and performance
// history survive a restart.
func (db *DB) RestoreRegistry(reg *registry.Registry) (int, error) {
	snaps, err := db.LoadWorkerSnapshots()
	if err != nil {
		return 0, err
	}
	if err := reg.Restore(snaps); err != nil {
		return 0, err
	}
	return len(snaps), nil
}

func marshalList[T any](list []T) (string, error) {
	if list == nil {
		list = []T{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalList[T any](data string, out *[]T) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
