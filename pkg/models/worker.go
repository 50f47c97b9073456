// Package models defines the core data types shared across conductor.
package models

import "time"

// Capability is an opaque tag denoting a skill a worker can perform
// or a task requires. Equality is exact string match.
type Capability string

// Worker describes a registered capability provider.
// Identity fields are immutable after registration; Performance and
// ActiveTasks are updated by the registry over the worker's lifetime.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// Name is the human-readable display name.
	Name string `json:"name"`
	// Category groups workers by kind (e.g. "codegen", "review").
	Category string `json:"category"`
	// Capabilities is the set of skills this worker declares.
	Capabilities []Capability `json:"capabilities"`
	// Requires lists companion capabilities that must be present among
	// the other workers selected alongside this one.
	Requires []Capability `json:"requires,omitempty"`
	// Languages lists the languages this worker supports.
	Languages []string `json:"languages,omitempty"`
	// Frameworks lists the frameworks this worker supports.
	Frameworks []string `json:"frameworks,omitempty"`
	// Modalities lists the input modalities this worker accepts.
	Modalities []string `json:"modalities,omitempty"`
	// Command is the shell command that performs an assignment when the
	// worker is command-backed. Empty for workers driven by an in-process
	// executor.
	Command string `json:"command,omitempty"`
	// ValidateCommand is the shell command that judges a produced
	// artifact. Exit status zero means accepted.
	ValidateCommand string `json:"validate_command,omitempty"`
	// MaxParallel is the number of tasks this worker can run concurrently.
	MaxParallel int `json:"max_parallel"`
	// CostPerTask is the estimated cost in dollars per task.
	CostPerTask float64 `json:"cost_per_task"`
	// ActiveTasks is the worker's current load.
	ActiveTasks int `json:"active_tasks"`
	// Performance is the rolling performance snapshot.
	Performance PerformanceSnapshot `json:"performance"`
	// RegisteredAt is when the worker was registered.
	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapability returns true if the worker declares the given capability.
func (w *Worker) HasCapability(c Capability) bool {
	for _, have := range w.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// PerformanceSnapshot summarizes a worker's recent execution history.
type PerformanceSnapshot struct {
	// SuccessRate is the fraction of recent executions that succeeded.
	SuccessRate float64 `json:"success_rate"`
	// AvgDuration is the mean execution duration in seconds.
	AvgDuration float64 `json:"avg_duration"`
	// P95Duration is the 95th-percentile execution duration in seconds.
	P95Duration float64 `json:"p95_duration"`
	// RetryRate is the fraction of recent executions that needed retries.
	RetryRate float64 `json:"retry_rate"`
	// Samples is the number of records in the window.
	Samples int `json:"samples"`
}

// PerformanceRecord is a single execution observation fed to the registry.
type PerformanceRecord struct {
	// Success indicates whether the execution succeeded.
	Success bool `json:"success"`
	// Duration is the execution duration in seconds.
	Duration float64 `json:"duration"`
	// Retries is the number of retries the execution needed.
	Retries int `json:"retries"`
	// RecordedAt is when the record was appended.
	RecordedAt time.Time `json:"recorded_at"`
}
