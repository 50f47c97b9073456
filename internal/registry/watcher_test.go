package registry

import (
	"os"
	"testing"
	"time"
)

// waitFor polls the condition until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return cond()
}

func TestWatcherReloadsOnCatalogChange(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	reg := New()
	if _, err := reg.RegisterCatalog(path); err != nil {
		t.Fatalf("RegisterCatalog: %v", err)
	}
	if reg.Count() != 2 {
		t.Fatalf("expected 2 workers before change, got %d", reg.Count())
	}

	w, err := NewWatcher(reg, path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	updated := testCatalog + `  - id: w3
    name: Reviewer
    category: review
    capabilities: [review]
    max_parallel: 1
    cost_per_task: 0.2
`
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}

	if !waitFor(t, 5*time.Second, func() bool { return w.Reloads() >= 1 }) {
		t.Fatalf("catalog was not reloaded; last error: %v", w.LastError())
	}
	if reg.Count() != 3 {
		t.Errorf("expected 3 workers after reload, got %d", reg.Count())
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	reg := New()
	if _, err := reg.RegisterCatalog(path); err != nil {
		t.Fatalf("RegisterCatalog: %v", err)
	}

	w, err := NewWatcher(reg, path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	other := path + ".bak"
	if err := os.WriteFile(other, []byte("unrelated"), 0644); err != nil {
		t.Fatalf("write unrelated file: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if w.Reloads() != 0 {
		t.Errorf("reload triggered by unrelated file, reloads = %d", w.Reloads())
	}
}
