package models

import "time"

// Phase is a set of assignments with no dependencies among each other,
// safe to execute concurrently. Phases are strictly ordered: an
// assignment in phase k may depend only on assignments in phases < k.
type Phase struct {
	// Index is the phase's position in the plan, starting at zero.
	Index int `json:"index"`
	// Assignments are the assignments runnable in this phase.
	Assignments []*Assignment `json:"assignments"`
}

// Plan is the full execution plan for one task batch.
// It is built once per batch and treated as read-only once dispatch begins.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`
	// Phases is the ordered list of execution phases.
	Phases []Phase `json:"phases"`
	// CriticalPath is the longest dependency chain of task IDs,
	// in execution order.
	CriticalPath []string `json:"critical_path"`
	// TotalDuration is the critical path's summed duration in seconds.
	TotalDuration float64 `json:"total_duration"`
	// TotalCost is the summed estimated cost of every assignment.
	TotalCost float64 `json:"total_cost"`
	// MaxConcurrency is the size of the largest phase.
	MaxConcurrency int `json:"max_concurrency"`
	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`
}

// AssignmentCount returns the total number of assignments across phases.
func (p *Plan) AssignmentCount() int {
	n := 0
	for _, phase := range p.Phases {
		n += len(phase.Assignments)
	}
	return n
}
