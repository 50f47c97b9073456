package state

import (
	"testing"
	"time"

	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/pkg/models"
)

func sampleSnapshot() registry.WorkerSnapshot {
	return registry.WorkerSnapshot{
		Worker: &models.Worker{
			ID:           "builder-1",
			Name:         "Builder",
			Category:     "engineering",
			Capabilities: []models.Capability{"build", "compile"},
			Languages:    []string{"go"},
			MaxParallel:  4,
			CostPerTask:  0.25,
			RegisteredAt: time.Now(),
		},
		Window: []models.PerformanceRecord{
			{Success: true, Duration: 10, RecordedAt: time.Now()},
			{Success: false, Duration: 30, Retries: 2, RecordedAt: time.Now()},
		},
	}
}

func TestSaveAndLoadWorkerSnapshot(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SaveWorkerSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("SaveWorkerSnapshot failed: %v", err)
	}

	snaps, err := db.LoadWorkerSnapshots()
	if err != nil {
		t.Fatalf("LoadWorkerSnapshots failed: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}

	w := snaps[0].Worker
	if w.ID != "builder-1" || w.Name != "Builder" {
		t.Errorf("unexpected worker identity: %s/%s", w.ID, w.Name)
	}
	if len(w.Capabilities) != 2 || w.Capabilities[0] != "build" {
		t.Errorf("capabilities = %v", w.Capabilities)
	}
	if w.MaxParallel != 4 {
		t.Errorf("max parallel = %d, want 4", w.MaxParallel)
	}
	if len(snaps[0].Window) != 2 {
		t.Fatalf("expected 2 performance records, got %d", len(snaps[0].Window))
	}
	if !snaps[0].Window[0].Success || snaps[0].Window[1].Retries != 2 {
		t.Errorf("performance window not round-tripped: %+v", snaps[0].Window)
	}
}

func TestSaveWorkerSnapshot_UpsertReplacesWindow(t *testing.T) {
	db := setupTestDB(t)

	snap := sampleSnapshot()
	if err := db.SaveWorkerSnapshot(snap); err != nil {
		t.Fatalf("first save: %v", err)
	}

	snap.Worker.Name = "Builder v2"
	snap.Window = snap.Window[:1]
	if err := db.SaveWorkerSnapshot(snap); err != nil {
		t.Fatalf("second save: %v", err)
	}

	snaps, err := db.LoadWorkerSnapshots()
	if err != nil {
		t.Fatalf("LoadWorkerSnapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].Worker.Name != "Builder v2" {
		t.Errorf("name = %q, want updated name", snaps[0].Worker.Name)
	}
	if len(snaps[0].Window) != 1 {
		t.Errorf("window size = %d, want 1 after replace", len(snaps[0].Window))
	}
}

func TestDeleteWorkerCascadesPerformance(t *testing.T) {
	db := setupTestDB(t)

	if err := db.SaveWorkerSnapshot(sampleSnapshot()); err != nil {
		t.Fatalf("SaveWorkerSnapshot: %v", err)
	}
	if err := db.DeleteWorker("builder-1"); err != nil {
		t.Fatalf("DeleteWorker failed: %v", err)
	}

	var count int
	row := db.QueryRow("SELECT COUNT(*) FROM performance_records WHERE worker_id = ?", "builder-1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count performance records: %v", err)
	}
	if count != 0 {
		t.Errorf("expected cascade delete, %d performance records remain", count)
	}
}

func TestSaveAndRestoreRegistry(t *testing.T) {
	db := setupTestDB(t)

	reg := registry.New()
	w := &models.Worker{
		ID:           "tester-1",
		Name:         "Tester",
		Capabilities: []models.Capability{"test"},
		MaxParallel:  2,
	}
	if err := reg.Register(w); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.UpdatePerformance("tester-1", true, 12, 0); err != nil {
		t.Fatalf("UpdatePerformance: %v", err)
	}
	if err := db.SaveRegistry(reg); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}

	restored := registry.New()
	n, err := db.RestoreRegistry(restored)
	if err != nil {
		t.Fatalf("RestoreRegistry failed: %v", err)
	}
	if n != 1 {
		t.Errorf("restored %d workers, want 1", n)
	}

	got, err := restored.Get("tester-1")
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if got.Performance.Samples != 1 {
		t.Errorf("restored performance samples = %d, want 1", got.Performance.Samples)
	}
	if got.Performance.AvgDuration != 12 {
		t.Errorf("restored avg duration = %f, want 12", got.Performance.AvgDuration)
	}
	if got.ActiveTasks != 0 {
		t.Errorf("restored load = %d, want 0", got.ActiveTasks)
	}
}
