package models

import "time"

// BatchStatus represents the lifecycle state of a submitted batch.
type BatchStatus string

const (
	// BatchPlanning indicates selection and planning are in progress.
	BatchPlanning BatchStatus = "planning"
	// BatchDispatching indicates phases are being dispatched.
	BatchDispatching BatchStatus = "dispatching"
	// BatchCompleted indicates every assignment reached acceptance
	// (or was skipped as optional).
	BatchCompleted BatchStatus = "completed"
	// BatchFailed indicates the batch failed, either during planning or
	// after an assignment exhausted its retries.
	BatchFailed BatchStatus = "failed"
	// BatchEscalated indicates at least one assignment was handed to a
	// human and the batch is waiting on manual resolution.
	BatchEscalated BatchStatus = "escalated"
	// BatchCancelled indicates the batch was cancelled mid-flight.
	BatchCancelled BatchStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPlanning, BatchDispatching, BatchCompleted,
		BatchFailed, BatchEscalated, BatchCancelled:
		return true
	default:
		return false
	}
}

// FailureKind distinguishes why a batch failed, so operators know whether
// to fix inputs, registered capabilities, or the failing worker.
type FailureKind string

const (
	// FailurePlanning means selection or planning rejected the batch
	// before any dispatch.
	FailurePlanning FailureKind = "planning"
	// FailureExecution means an assignment failed after exhausting its
	// retry budget.
	FailureExecution FailureKind = "execution"
)

// Outcome records the terminal result of one assignment.
type Outcome struct {
	// TaskID is the task the assignment belonged to.
	TaskID string `json:"task_id"`
	// WorkerID is the worker that executed the assignment.
	WorkerID string `json:"worker_id"`
	// Status is the terminal task status (accepted, escalated, failed,
	// skipped).
	Status TaskStatus `json:"status"`
	// Attempts is the number of execution attempts made.
	Attempts int `json:"attempts"`
	// ArtifactRef references the final artifact, if one was accepted.
	ArtifactRef string `json:"artifact_ref,omitempty"`
	// Error holds the final error message for failed assignments.
	Error string `json:"error,omitempty"`
	// Duration is the wall-clock time spent on the assignment in seconds.
	Duration float64 `json:"duration"`
}

// Report is the JSON-serializable execution report for one batch.
type Report struct {
	// BatchID identifies the batch.
	BatchID string `json:"batch_id"`
	// Status is the batch's terminal status.
	Status BatchStatus `json:"status"`
	// FailureKind is set when Status is failed.
	FailureKind FailureKind `json:"failure_kind,omitempty"`
	// PlanningError holds the selection or planning error, if any.
	PlanningError string `json:"planning_error,omitempty"`
	// Plan is the execution plan the batch ran under. Nil when planning
	// itself failed.
	Plan *Plan `json:"plan,omitempty"`
	// Outcomes lists per-assignment terminal results.
	Outcomes []Outcome `json:"outcomes,omitempty"`
	// TotalCost is the summed estimated cost of dispatched assignments.
	TotalCost float64 `json:"total_cost"`
	// Coverage is the registry's capability coverage histogram at
	// planning time.
	Coverage map[Capability]int `json:"coverage,omitempty"`
	// Gaps lists capabilities recent searches asked for but no worker
	// declares.
	Gaps []Capability `json:"gaps,omitempty"`
	// StartedAt is when the batch was submitted.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the batch reached a terminal state.
	FinishedAt time.Time `json:"finished_at"`
}
