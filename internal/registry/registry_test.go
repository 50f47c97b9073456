package registry

import (
	"errors"
	"testing"

	"github.com/kestrelworks/conductor/pkg/models"
)

func testWorker(id string, caps ...models.Capability) *models.Worker {
	return &models.Worker{
		ID:           id,
		Name:         id,
		Category:     "codegen",
		Capabilities: caps,
		Languages:    []string{"go"},
		Frameworks:   []string{"stdlib"},
		Modalities:   []string{"text"},
		MaxParallel:  2,
		CostPerTask:  1.0,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	w, err := r.Get("w1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if w.ID != "w1" {
		t.Errorf("expected id w1, got %s", w.ID)
	}
	if w.MaxParallel != 2 {
		t.Errorf("expected max parallel 2, got %d", w.MaxParallel)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	err := r.Register(testWorker("w1", "api"))
	if !errors.Is(err, ErrDuplicateWorker) {
		t.Errorf("expected ErrDuplicateWorker, got %v", err)
	}
}

func TestDeregisterNotFound(t *testing.T) {
	r := New()

	err := r.Deregister("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeregisterScrubsAllIndexes(t *testing.T) {
	r := New()

	w := testWorker("w1", "python", "api")
	if err := r.Register(w); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Deregister("w1"); err != nil {
		t.Fatalf("deregister failed: %v", err)
	}

	// Every index lookup that previously matched must now come up empty.
	for _, c := range w.Capabilities {
		if got := r.Search([]models.Capability{c}, nil, Filters{}); len(got) != 0 {
			t.Errorf("capability %q still resolves %d workers after deregister", c, len(got))
		}
	}
	for _, f := range []Filters{
		{Language: "go"},
		{Framework: "stdlib"},
		{Category: "codegen"},
		{Modality: "text"},
	} {
		if got := r.Search(nil, nil, f); len(got) != 0 {
			t.Errorf("filter %+v still resolves %d workers after deregister", f, len(got))
		}
	}
}

func TestIndexMembershipAfterRegister(t *testing.T) {
	r := New()

	w := testWorker("w1", "python", "api")
	if err := r.Register(w); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for _, c := range w.Capabilities {
		results := r.Search([]models.Capability{c}, nil, Filters{})
		if len(results) != 1 || results[0].ID != "w1" {
			t.Errorf("capability %q: expected [w1], got %d results", c, len(results))
		}
	}
	for _, f := range []Filters{
		{Language: "go"},
		{Framework: "stdlib"},
		{Category: "codegen"},
		{Modality: "text"},
	} {
		results := r.Search(nil, nil, f)
		if len(results) != 1 || results[0].ID != "w1" {
			t.Errorf("filter %+v: expected [w1], got %d results", f, len(results))
		}
	}
}

func TestSearchEmptyRequiredReturnsAll(t *testing.T) {
	r := New()

	for _, id := range []string{"w1", "w2", "w3"} {
		if err := r.Register(testWorker(id, "python")); err != nil {
			t.Fatalf("register %s failed: %v", id, err)
		}
	}

	results := r.Search(nil, nil, Filters{})
	if len(results) != 3 {
		t.Errorf("expected 3 workers, got %d", len(results))
	}
}

func TestSearchUnknownCapabilityIsEmptyNotError(t *testing.T) {
	r := New()

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	results := r.Search([]models.Capability{"cobol"}, nil, Filters{})
	if len(results) != 0 {
		t.Errorf("expected no results for unknown capability, got %d", len(results))
	}

	stats := r.Stats()
	if len(stats.Gaps) != 1 || stats.Gaps[0] != "cobol" {
		t.Errorf("expected gap [cobol], got %v", stats.Gaps)
	}
}

func TestSearchIntersectsRequiredCapabilities(t *testing.T) {
	r := New()

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(testWorker("w2", "python", "api")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	results := r.Search([]models.Capability{"python", "api"}, nil, Filters{})
	if len(results) != 1 || results[0].ID != "w2" {
		t.Fatalf("expected only w2, got %d results", len(results))
	}
}

func TestSearchFilterNarrowing(t *testing.T) {
	r := New()

	w1 := testWorker("w1", "python")
	w1.Languages = []string{"python"}
	w2 := testWorker("w2", "python")
	w2.Languages = []string{"go"}
	for _, w := range []*models.Worker{w1, w2} {
		if err := r.Register(w); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}

	results := r.Search([]models.Capability{"python"}, nil, Filters{Language: "go"})
	if len(results) != 1 || results[0].ID != "w2" {
		t.Fatalf("expected only w2 for language filter, got %d results", len(results))
	}
}

func TestUpdatePerformanceSnapshot(t *testing.T) {
	r := New()

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// 3 successes, 1 failure; one execution needed retries.
	durations := []float64{10, 20, 30, 40}
	for i, d := range durations {
		success := i != 3
		retries := 0
		if i == 1 {
			retries = 2
		}
		if err := r.UpdatePerformance("w1", success, d, retries); err != nil {
			t.Fatalf("update performance failed: %v", err)
		}
	}

	w, err := r.Get("w1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	perf := w.Performance
	if perf.Samples != 4 {
		t.Errorf("expected 4 samples, got %d", perf.Samples)
	}
	if perf.SuccessRate != 0.75 {
		t.Errorf("expected success rate 0.75, got %v", perf.SuccessRate)
	}
	if perf.AvgDuration != 25 {
		t.Errorf("expected avg duration 25, got %v", perf.AvgDuration)
	}
	// floor(0.95*4) = 3 -> the largest duration.
	if perf.P95Duration != 40 {
		t.Errorf("expected p95 duration 40, got %v", perf.P95Duration)
	}
	if perf.RetryRate != 0.25 {
		t.Errorf("expected retry rate 0.25, got %v", perf.RetryRate)
	}
}

func TestUpdatePerformanceWindowBound(t *testing.T) {
	r := NewWithWindow(5)

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// 10 failures followed by 5 successes; only the last 5 should count.
	for i := 0; i < 10; i++ {
		if err := r.UpdatePerformance("w1", false, 1, 0); err != nil {
			t.Fatalf("update performance failed: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if err := r.UpdatePerformance("w1", true, 1, 0); err != nil {
			t.Fatalf("update performance failed: %v", err)
		}
	}

	w, _ := r.Get("w1")
	if w.Performance.Samples != 5 {
		t.Errorf("expected window of 5 samples, got %d", w.Performance.Samples)
	}
	if w.Performance.SuccessRate != 1.0 {
		t.Errorf("expected success rate 1.0 over window, got %v", w.Performance.SuccessRate)
	}
}

func TestUpdateLoadClampsAtZero(t *testing.T) {
	r := New()

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if err := r.UpdateLoad("w1", 2); err != nil {
		t.Fatalf("update load failed: %v", err)
	}
	if err := r.UpdateLoad("w1", -5); err != nil {
		t.Fatalf("update load underflow should not fail: %v", err)
	}

	w, _ := r.Get("w1")
	if w.ActiveTasks != 0 {
		t.Errorf("expected load clamped to 0, got %d", w.ActiveTasks)
	}
}

func TestStatsCoverage(t *testing.T) {
	r := New()

	if err := r.Register(testWorker("w1", "python")); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := r.Register(testWorker("w2", "python", "api")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	stats := r.Stats()
	if stats.WorkerCount != 2 {
		t.Errorf("expected 2 workers, got %d", stats.WorkerCount)
	}
	if stats.Coverage["python"] != 2 {
		t.Errorf("expected python coverage 2, got %d", stats.Coverage["python"])
	}
	if stats.Coverage["api"] != 1 {
		t.Errorf("expected api coverage 1, got %d", stats.Coverage["api"])
	}
}
