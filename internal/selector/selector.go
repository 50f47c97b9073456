// Package selector ranks registered workers for a task and produces
// assignments.
package selector

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/pkg/models"
)

// ErrNoCapableWorker indicates no registered worker satisfies the task's
// required capabilities and filters.
var ErrNoCapableWorker = errors.New("no capable worker")

// ErrUnsatisfiableDependency indicates a selected worker requires a
// companion capability that no other selected worker declares.
var ErrUnsatisfiableDependency = errors.New("unsatisfiable worker dependency")

// Weights are the scoring weights for the four ranking factors.
// They are configurable defaults, not tuned constants.
type Weights struct {
	// Capability weighs the capability-match fraction.
	Capability float64 `mapstructure:"capability"`
	// Performance weighs the worker's historical performance.
	Performance float64 `mapstructure:"performance"`
	// Availability weighs the worker's spare parallel capacity.
	Availability float64 `mapstructure:"availability"`
	// Cost weighs cost efficiency relative to other candidates.
	Cost float64 `mapstructure:"cost"`
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Capability:   0.40,
		Performance:  0.30,
		Availability: 0.20,
		Cost:         0.10,
	}
}

// Constraints narrows the candidate pool before scoring.
type Constraints struct {
	// Category restricts candidates to a worker category.
	Category string
	// Modality restricts candidates to workers accepting the modality.
	Modality string
}

// Selector scores registry candidates and picks workers for tasks.
type Selector struct {
	registry *registry.Registry
	weights  Weights
	// baselineP95 is the duration in seconds against which a worker's
	// p95 is penalized.
	baselineP95 float64
	// defaultDuration is the duration estimate in seconds used for
	// workers with no history.
	defaultDuration float64
}

// Option configures a Selector.
type Option func(*Selector)

// WithWeights overrides the default scoring weights.
func WithWeights(w Weights) Option {
	return func(s *Selector) { s.weights = w }
}

// WithBaselineP95 overrides the baseline p95 duration in seconds.
func WithBaselineP95(seconds float64) Option {
	return func(s *Selector) { s.baselineP95 = seconds }
}

// WithDefaultDuration overrides the default duration estimate in seconds.
func WithDefaultDuration(seconds float64) Option {
	return func(s *Selector) { s.defaultDuration = seconds }
}

// New creates a Selector reading from the given registry.
func New(reg *registry.Registry, opts ...Option) *Selector {
	s := &Selector{
		registry:        reg,
		weights:         DefaultWeights(),
		baselineP95:     300,
		defaultDuration: 600,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select picks workers for the task and returns one assignment per
// selected worker. Single-worker tasks get the top-ranked candidate;
// tasks requiring multiple workers get a greedy top-k over
// non-overlapping capabilities. Selection is deterministic for an
// unchanged registry.
func (s *Selector) Select(task *models.Task, constraints Constraints) ([]*models.Assignment, error) {
	filters := registry.Filters{
		Language:  task.Language,
		Framework: task.Framework,
		Category:  constraints.Category,
		Modality:  constraints.Modality,
	}

	candidates := s.registry.Search(task.Required, task.Optional, filters)
	if task.Workers() > 1 {
		// A multi-worker team covers the union of the task's
		// capabilities, so specialists matching only an optional
		// capability also belong in the pool.
		candidates = mergeCandidates(candidates, s.optionalSpecialists(task, filters))
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("select task %s: %w", task.ID, ErrNoCapableWorker)
	}

	ranked := s.rank(task, candidates)

	var picked []scored
	if task.Workers() <= 1 {
		picked = ranked[:1]
	} else {
		var err error
		picked, err = pickNonOverlapping(task, ranked, task.Workers())
		if err != nil {
			return nil, err
		}
	}

	if err := checkCompanions(picked); err != nil {
		return nil, err
	}

	assignments := make([]*models.Assignment, 0, len(picked))
	for _, sc := range picked {
		assignments = append(assignments, &models.Assignment{
			ID:                uuid.New().String()[:8],
			TaskID:            task.ID,
			WorkerID:          sc.worker.ID,
			DependsOn:         append([]string(nil), task.DependsOn...),
			EstimatedDuration: s.estimateDuration(task, sc.worker),
			EstimatedCost:     sc.worker.CostPerTask,
			Score:             sc.total,
			CreatedAt:         time.Now(),
		})
	}
	return assignments, nil
}

// rank scores every candidate and sorts descending by total score.
// Ties break on lower current load, then lexicographically smaller ID.
func (s *Selector) rank(task *models.Task, candidates []*models.Worker) []scored {
	cheapest := cheapestCost(candidates)

	ranked := make([]scored, 0, len(candidates))
	for _, w := range candidates {
		ranked = append(ranked, s.score(task, w, cheapest))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.total != b.total {
			return a.total > b.total
		}
		if a.worker.ActiveTasks != b.worker.ActiveTasks {
			return a.worker.ActiveTasks < b.worker.ActiveTasks
		}
		return a.worker.ID < b.worker.ID
	})
	return ranked
}

// estimateDuration derives an assignment duration from the worker's
// average duration scaled by task complexity, falling back to the
// configured default for workers with no history.
func (s *Selector) estimateDuration(task *models.Task, w *models.Worker) float64 {
	base := s.defaultDuration
	if w.Performance.Samples > 0 && w.Performance.AvgDuration > 0 {
		base = w.Performance.AvgDuration
	}
	return base * task.Complexity.DurationFactor()
}

// pickNonOverlapping greedily picks up to k workers from the ranked list,
// preferring each next worker that covers a capability not yet covered.
func pickNonOverlapping(task *models.Task, ranked []scored, k int) ([]scored, error) {
	wanted := make(map[models.Capability]bool)
	for _, c := range task.Required {
		wanted[c] = true
	}
	for _, c := range task.Optional {
		wanted[c] = true
	}

	covered := make(map[models.Capability]bool)
	var picked []scored
	for _, sc := range ranked {
		if len(picked) == k {
			break
		}
		contributes := len(picked) == 0
		for _, c := range sc.worker.Capabilities {
			if wanted[c] && !covered[c] {
				contributes = true
			}
		}
		if !contributes {
			continue
		}
		for _, c := range sc.worker.Capabilities {
			covered[c] = true
		}
		picked = append(picked, sc)
	}

	if len(picked) < k {
		return nil, fmt.Errorf("select task %s: need %d workers, found %d with distinct coverage: %w",
			task.ID, k, len(picked), ErrNoCapableWorker)
	}
	return picked, nil
}

// checkCompanions verifies every selected worker's companion-capability
// requirements are satisfied by another selected worker.
func checkCompanions(picked []scored) error {
	for i, sc := range picked {
		for _, need := range sc.worker.Requires {
			satisfied := false
			for j, other := range picked {
				if i == j {
					continue
				}
				if other.worker.HasCapability(need) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				return fmt.Errorf("worker %s requires companion capability %q: %w",
					sc.worker.ID, need, ErrUnsatisfiableDependency)
			}
		}
	}
	return nil
}

// optionalSpecialists finds workers matching any single optional
// capability under the same filters.
func (s *Selector) optionalSpecialists(task *models.Task, filters registry.Filters) []*models.Worker {
	var specialists []*models.Worker
	for _, c := range task.Optional {
		specialists = mergeCandidates(specialists, s.registry.Search([]models.Capability{c}, nil, filters))
	}
	return specialists
}

// mergeCandidates unions two candidate lists, deduplicating by worker ID
// and keeping a deterministic order.
func mergeCandidates(a, b []*models.Worker) []*models.Worker {
	seen := make(map[string]bool, len(a))
	out := make([]*models.Worker, 0, len(a)+len(b))
	for _, w := range a {
		if !seen[w.ID] {
			seen[w.ID] = true
			out = append(out, w)
		}
	}
	for _, w := range b {
		if !seen[w.ID] {
			seen[w.ID] = true
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cheapestCost(candidates []*models.Worker) float64 {
	cheapest := 0.0
	for _, w := range candidates {
		if w.CostPerTask <= 0 {
			continue
		}
		if cheapest == 0 || w.CostPerTask < cheapest {
			cheapest = w.CostPerTask
		}
	}
	return cheapest
}
