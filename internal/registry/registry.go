// Package registry provides an indexed, in-memory catalog of workers and
// their declared capabilities, with rolling performance and load tracking.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrelworks/conductor/pkg/models"
)

// ErrDuplicateWorker indicates a worker with the same ID is already registered.
var ErrDuplicateWorker = errors.New("duplicate worker id")

// ErrNotFound indicates the worker ID is not registered.
var ErrNotFound = errors.New("worker not found")

// DefaultWindowSize is the number of performance records kept per worker.
const DefaultWindowSize = 100

// idSet is a set of worker IDs.
type idSet map[string]struct{}

// Filters narrows a search beyond capability matching. Empty fields are
// ignored.
type Filters struct {
	// Language restricts results to workers supporting the language.
	Language string
	// Framework restricts results to workers supporting the framework.
	Framework string
	// Category restricts results to workers of the given category.
	Category string
	// Modality restricts results to workers accepting the input modality.
	Modality string
}

// Registry is the capability registry. One write lock guards primary
// storage and all five indexes, so readers never observe a worker present
// in storage but missing from an index, or vice versa.
type Registry struct {
	mu sync.RWMutex
	// workers maps worker ID to the stored descriptor.
	workers map[string]*models.Worker
	// windows maps worker ID to its bounded performance history.
	windows map[string][]models.PerformanceRecord
	// windowSize bounds each performance history.
	windowSize int

	// byCapability maps capability to the IDs of workers declaring it.
	byCapability map[models.Capability]idSet
	// byLanguage maps language to worker IDs.
	byLanguage map[string]idSet
	// byFramework maps framework to worker IDs.
	byFramework map[string]idSet
	// byCategory maps category to worker IDs.
	byCategory map[string]idSet
	// byModality maps input modality to worker IDs.
	byModality map[string]idSet

	// misses counts capabilities required by searches that matched zero
	// workers. Used for gap reporting.
	misses map[models.Capability]int

	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates an empty Registry with the default performance window size.
func New() *Registry {
	return NewWithWindow(DefaultWindowSize)
}

// NewWithWindow creates an empty Registry with the given performance
// window size.
func NewWithWindow(windowSize int) *Registry {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	return &Registry{
		workers:      make(map[string]*models.Worker),
		windows:      make(map[string][]models.PerformanceRecord),
		windowSize:   windowSize,
		byCapability: make(map[models.Capability]idSet),
		byLanguage:   make(map[string]idSet),
		byFramework:  make(map[string]idSet),
		byCategory:   make(map[string]idSet),
		byModality:   make(map[string]idSet),
		misses:       make(map[models.Capability]int),
		debugLog:     func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (r *Registry) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		r.debugLog = fn
	}
}

// Register adds a worker to storage and all five indexes.
// Returns ErrDuplicateWorker if the ID is already present.
func (r *Registry) Register(w *models.Worker) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("register: worker must have an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.ID]; exists {
		return fmt.Errorf("register %s: %w", w.ID, ErrDuplicateWorker)
	}

	stored := cloneWorker(w)
	if stored.RegisteredAt.IsZero() {
		stored.RegisteredAt = time.Now()
	}
	if stored.MaxParallel < 1 {
		stored.MaxParallel = 1
	}

	r.workers[stored.ID] = stored
	for _, c := range stored.Capabilities {
		addToIndex(r.byCapability, c, stored.ID)
	}
	for _, l := range stored.Languages {
		addToIndex(r.byLanguage, l, stored.ID)
	}
	for _, f := range stored.Frameworks {
		addToIndex(r.byFramework, f, stored.ID)
	}
	addToIndex(r.byCategory, stored.Category, stored.ID)
	for _, m := range stored.Modalities {
		addToIndex(r.byModality, m, stored.ID)
	}

	r.debugLog("[registry] registered worker %s with %d capabilities", stored.ID, len(stored.Capabilities))
	return nil
}

// Deregister removes a worker from storage and from every index entry it
// appears in. Index membership is scanned rather than deleted blindly, so
// no dangling IDs survive even if the stored descriptor drifted.
// Returns ErrNotFound if the ID is absent.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[id]; !exists {
		return fmt.Errorf("deregister %s: %w", id, ErrNotFound)
	}

	delete(r.workers, id)
	delete(r.windows, id)
	scrubIndex(r.byCapability, id)
	scrubIndex(r.byLanguage, id)
	scrubIndex(r.byFramework, id)
	scrubIndex(r.byCategory, id)
	scrubIndex(r.byModality, id)

	r.debugLog("[registry] deregistered worker %s", id)
	return nil
}

// Get returns a copy of the worker with the given ID.
func (r *Registry) Get(id string) (*models.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, exists := r.workers[id]
	if !exists {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return cloneWorker(w), nil
}

// Search returns workers declaring every required capability, narrowed by
// the given filters. An empty required set matches all workers. A
// capability no worker declares yields an empty result, never an error,
// and is recorded as a capability gap.
func (r *Registry) Search(required, optional []models.Capability, f Filters) []*models.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates idSet
	if len(required) == 0 {
		candidates = make(idSet, len(r.workers))
		for id := range r.workers {
			candidates[id] = struct{}{}
		}
	} else {
		for i, c := range required {
			set := r.byCapability[c]
			if len(set) == 0 {
				r.misses[c]++
				r.debugLog("[registry] search miss: no worker declares %q", c)
				return nil
			}
			if i == 0 {
				candidates = copySet(set)
			} else {
				candidates = intersect(candidates, set)
			}
			if len(candidates) == 0 {
				r.misses[c]++
				return nil
			}
		}
	}

	if f.Language != "" {
		candidates = intersect(candidates, r.byLanguage[f.Language])
	}
	if f.Framework != "" {
		candidates = intersect(candidates, r.byFramework[f.Framework])
	}
	if f.Category != "" {
		candidates = intersect(candidates, r.byCategory[f.Category])
	}
	if f.Modality != "" {
		candidates = intersect(candidates, r.byModality[f.Modality])
	}

	results := make([]*models.Worker, 0, len(candidates))
	for id := range candidates {
		results = append(results, cloneWorker(r.workers[id]))
	}
	// Deterministic order for callers that score and tie-break.
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })

	r.debugLog("[registry] search required=%v filters=%+v -> %d workers", required, f, len(results))
	return results
}

// UpdatePerformance appends an execution record to the worker's bounded
// history and recomputes its performance snapshot.
func (r *Registry) UpdatePerformance(id string, success bool, durationSeconds float64, retryCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[id]
	if !exists {
		return fmt.Errorf("update performance %s: %w", id, ErrNotFound)
	}

	window := append(r.windows[id], models.PerformanceRecord{
		Success:    success,
		Duration:   durationSeconds,
		Retries:    retryCount,
		RecordedAt: time.Now(),
	})
	if len(window) > r.windowSize {
		window = window[len(window)-r.windowSize:]
	}
	r.windows[id] = window
	w.Performance = summarize(window)

	return nil
}

// UpdateLoad adjusts the worker's active-task counter by delta.
// The counter never goes negative; an underflow is clamped to zero and
// logged as a soft inconsistency rather than failing the caller.
func (r *Registry) UpdateLoad(id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, exists := r.workers[id]
	if !exists {
		return fmt.Errorf("update load %s: %w", id, ErrNotFound)
	}

	w.ActiveTasks += delta
	if w.ActiveTasks < 0 {
		r.debugLog("[registry] load underflow for worker %s, clamping to zero", id)
		w.ActiveTasks = 0
	}
	return nil
}

// Stats summarizes registry contents for reporting.
type Stats struct {
	// WorkerCount is the number of registered workers.
	WorkerCount int `json:"worker_count"`
	// Coverage maps each declared capability to the number of workers
	// declaring it.
	Coverage map[models.Capability]int `json:"coverage"`
	// Gaps lists capabilities recent failed searches asked for but no
	// worker declares, sorted for determinism.
	Gaps []models.Capability `json:"gaps"`
}

// Stats returns worker totals, the capability coverage histogram, and the
// current capability gaps.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coverage := make(map[models.Capability]int, len(r.byCapability))
	for c, set := range r.byCapability {
		if len(set) > 0 {
			coverage[c] = len(set)
		}
	}

	var gaps []models.Capability
	for c := range r.misses {
		if len(r.byCapability[c]) == 0 {
			gaps = append(gaps, c)
		}
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })

	return Stats{
		WorkerCount: len(r.workers),
		Coverage:    coverage,
		Gaps:        gaps,
	}
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// WorkerSnapshot pairs a worker with its raw performance window, so the
// registry can be persisted and rebuilt without losing history.
type WorkerSnapshot struct {
	Worker *models.Worker
	Window []models.PerformanceRecord
}

// Snapshot returns every worker with its performance window, sorted by
// worker ID.
func (r *Registry) Snapshot() []WorkerSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snaps := make([]WorkerSnapshot, 0, len(r.workers))
	for id, w := range r.workers {
		snaps = append(snaps, WorkerSnapshot{
			Worker: cloneWorker(w),
			Window: append([]models.PerformanceRecord(nil), r.windows[id]...),
		})
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Worker.ID < snaps[j].Worker.ID })
	return snaps
}

// Restore registers the snapshotted workers and replays their
// performance windows. Workers already registered are skipped.
func (r *Registry) Restore(snaps []WorkerSnapshot) error {
	for _, s := range snaps {
		if err := r.Register(s.Worker); err != nil {
			if errors.Is(err, ErrDuplicateWorker) {
				continue
			}
			return err
		}
		r.mu.Lock()
		window := append([]models.PerformanceRecord(nil), s.Window...)
		if len(window) > r.windowSize {
			window = window[len(window)-r.windowSize:]
		}
		r.windows[s.Worker.ID] = window
		if len(window) > 0 {
			r.workers[s.Worker.ID].Performance = summarize(window)
		}
		r.mu.Unlock()
	}
	return nil
}

func addToIndex[K comparable](index map[K]idSet, key K, id string) {
	var zero K
	if key == zero {
		return
	}
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set[id] = struct{}{}
}

func scrubIndex[K comparable](index map[K]idSet, id string) {
	for key, set := range index {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func copySet(s idSet) idSet {
	out := make(idSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func intersect(a, b idSet) idSet {
	if len(b) < len(a) {
		a, b = b, a
	}
	out := make(idSet)
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func cloneWorker(w *models.Worker) *models.Worker {
	c := *w
	c.Capabilities = append([]models.Capability(nil), w.Capabilities...)
	c.Requires = append([]models.Capability(nil), w.Requires...)
	c.Languages = append([]string(nil), w.Languages...)
	c.Frameworks = append([]string(nil), w.Frameworks...)
	c.Modalities = append([]string(nil), w.Modalities...)
	return &c
}
