package selector

import "github.com/kestrelworks/conductor/pkg/models"

// scored pairs a candidate worker with its component and composite scores.
type scored struct {
	worker       *models.Worker
	capability   float64
	performance  float64
	availability float64
	cost         float64
	total        float64
}

// score computes the weighted composite score for one candidate.
func (s *Selector) score(task *models.Task, w *models.Worker, cheapest float64) scored {
	sc := scored{
		worker:       w,
		capability:   capabilityMatch(task, w),
		performance:  s.performanceScore(w),
		availability: availabilityScore(w),
		cost:         costScore(w, cheapest),
	}
	sc.total = sc.capability*s.weights.Capability +
		sc.performance*s.weights.Performance +
		sc.availability*s.weights.Availability +
		sc.cost*s.weights.Cost
	return sc
}

// capabilityMatch is the fraction of the task's required plus optional
// capabilities the worker declares. Candidates already satisfy every
// required capability, so the fraction varies with optional coverage.
func capabilityMatch(task *models.Task, w *models.Worker) float64 {
	total := len(task.Required) + len(task.Optional)
	if total == 0 {
		return 1.0
	}

	matched := 0
	for _, c := range task.Required {
		if w.HasCapability(c) {
			matched++
		}
	}
	for _, c := range task.Optional {
		if w.HasCapability(c) {
			matched++
		}
	}
	return float64(matched) / float64(total)
}

// performanceScore weighs the worker's success rate, penalized by how far
// its p95 duration exceeds the baseline. Workers with no history score a
// neutral 0.5 so newcomers are neither favoured nor starved.
func (s *Selector) performanceScore(w *models.Worker) float64 {
	perf := w.Performance
	if perf.Samples == 0 {
		return 0.5
	}

	penalty := 1.0
	if perf.P95Duration > s.baselineP95 && s.baselineP95 > 0 {
		penalty = s.baselineP95 / perf.P95Duration
	}
	return perf.SuccessRate * penalty
}

// availabilityScore is the worker's spare capacity relative to its
// declared parallel limit.
func availabilityScore(w *models.Worker) float64 {
	limit := w.MaxParallel
	if limit < 1 {
		limit = 1
	}
	spare := float64(limit-w.ActiveTasks) / float64(limit)
	if spare < 0 {
		return 0
	}
	return spare
}

// costScore is the inverse of cost per task, normalized so the cheapest
// candidate scores 1.0. Free workers score 1.0.
func costScore(w *models.Worker, cheapest float64) float64 {
	if w.CostPerTask <= 0 || cheapest <= 0 {
		return 1.0
	}
	return cheapest / w.CostPerTask
}
