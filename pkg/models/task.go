package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being worked on.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusAccepted indicates the task's artifact passed validation.
	TaskStatusAccepted TaskStatus = "accepted"
	// TaskStatusEscalated indicates the task was handed to a human.
	TaskStatusEscalated TaskStatus = "escalated"
	// TaskStatusFailed indicates the task failed terminally.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusSkipped indicates an optional task was skipped because a
	// dependency failed.
	TaskStatusSkipped TaskStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusAccepted,
		TaskStatusEscalated, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// Complexity is the estimated complexity tier of a task.
type Complexity string

const (
	// ComplexityTrivial is for tasks with no required capabilities.
	ComplexityTrivial Complexity = "trivial"
	// ComplexityLow is for small, single-capability tasks.
	ComplexityLow Complexity = "low"
	// ComplexityMedium is for standard tasks.
	ComplexityMedium Complexity = "medium"
	// ComplexityHigh is for large or cross-cutting tasks.
	ComplexityHigh Complexity = "high"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityTrivial, ComplexityLow, ComplexityMedium, ComplexityHigh:
		return true
	default:
		return false
	}
}

// DurationFactor scales a worker's baseline duration estimate by
// task complexity.
func (c Complexity) DurationFactor() float64 {
	switch c {
	case ComplexityTrivial:
		return 0.25
	case ComplexityLow:
		return 0.5
	case ComplexityHigh:
		return 2.0
	default:
		return 1.0
	}
}

// Task describes a unit of work and what it needs from a worker.
type Task struct {
	// ID is the unique identifier for this task within a batch.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Required is the set of capabilities a worker must declare.
	// Empty only for trivial tasks.
	Required []Capability `json:"required"`
	// Optional is the set of capabilities that improve the match but
	// are not mandatory.
	Optional []Capability `json:"optional,omitempty"`
	// Language is a target-language hint for worker selection.
	Language string `json:"language,omitempty"`
	// Framework is a target-framework hint for worker selection.
	Framework string `json:"framework,omitempty"`
	// Complexity is the estimated complexity tier.
	Complexity Complexity `json:"complexity"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// WorkerCount is the number of workers this task requires.
	// Zero means one.
	WorkerCount int `json:"worker_count,omitempty"`
	// OptionalTask marks the task as skippable when a dependency fails,
	// rather than failing the whole batch.
	OptionalTask bool `json:"optional_task,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
}

// Workers returns the number of workers the task requires, at least one.
func (t *Task) Workers() int {
	if t.WorkerCount < 1 {
		return 1
	}
	return t.WorkerCount
}
