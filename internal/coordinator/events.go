// Package coordinator drives the orchestration pipeline: selection,
// planning, phase-by-phase dispatch, and result collection.
package coordinator

import (
	"log"
	"sync/atomic"
	"time"
)

// EventType represents the type of coordinator event.
type EventType string

const (
	// EventBatchPlanned indicates selection and planning completed.
	EventBatchPlanned EventType = "batch_planned"
	// EventPhaseStarted indicates a phase began dispatching.
	EventPhaseStarted EventType = "phase_started"
	// EventPhaseCompleted indicates every assignment in a phase resolved.
	EventPhaseCompleted EventType = "phase_completed"
	// EventAssignmentStarted indicates an assignment was dispatched.
	EventAssignmentStarted EventType = "assignment_started"
	// EventAssignmentAccepted indicates an assignment's artifact was
	// accepted.
	EventAssignmentAccepted EventType = "assignment_accepted"
	// EventAssignmentEscalated indicates an assignment exhausted its
	// retries and was handed to a human.
	EventAssignmentEscalated EventType = "assignment_escalated"
	// EventAssignmentSkipped indicates an optional assignment was
	// skipped because a dependency failed.
	EventAssignmentSkipped EventType = "assignment_skipped"
	// EventAssignmentFailed indicates an assignment failed terminally.
	EventAssignmentFailed EventType = "assignment_failed"
	// EventBatchCompleted indicates the batch finished successfully.
	EventBatchCompleted EventType = "batch_completed"
	// EventBatchFailed indicates the batch failed.
	EventBatchFailed EventType = "batch_failed"
	// EventBatchCancelled indicates the batch was cancelled mid-flight.
	EventBatchCancelled EventType = "batch_cancelled"
)

// Event is emitted by the coordinator as a batch progresses.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// BatchID identifies the batch.
	BatchID string
	// TaskID is the related task, if applicable.
	TaskID string
	// WorkerID is the related worker, if applicable.
	WorkerID string
	// Phase is the related phase index, if applicable.
	Phase int
	// Message provides additional context.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// EventEmitter provides thread-safe event emission to subscribers.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates an EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event. If the channel is full it retries briefly before
// dropping the event, so a slow subscriber cannot stall dispatch.
func (e *EventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[coordinator] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the number of events dropped so far.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the read-only event channel for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the event channel. Call only after dispatch has stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
