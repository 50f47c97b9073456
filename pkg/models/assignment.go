package models

import "time"

// Assignment binds exactly one task to exactly one worker.
// Assignments are immutable after creation; re-assignment produces a
// new Assignment.
type Assignment struct {
	// ID is the unique identifier for this assignment.
	ID string `json:"id"`
	// TaskID is the task being assigned.
	TaskID string `json:"task_id"`
	// WorkerID is the worker the task is assigned to.
	WorkerID string `json:"worker_id"`
	// DependsOn is the dependency list copied from the task.
	DependsOn []string `json:"depends_on,omitempty"`
	// EstimatedDuration is the expected execution time in seconds.
	EstimatedDuration float64 `json:"estimated_duration"`
	// EstimatedCost is the expected cost in dollars.
	EstimatedCost float64 `json:"estimated_cost"`
	// Score is the selector's composite score for this pairing.
	Score float64 `json:"score"`
	// CreatedAt is when the assignment was created.
	CreatedAt time.Time `json:"created_at"`
}
