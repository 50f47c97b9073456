// Package validation runs the accept-retry-escalate loop around each
// dispatched assignment.
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrelworks/conductor/pkg/models"
)

// ErrRetriesExhausted indicates an assignment was rejected on every
// attempt within the retry budget.
var ErrRetriesExhausted = errors.New("retries exhausted")

// DefaultMaxRetries is the default attempt budget per assignment.
const DefaultMaxRetries = 3

// State is the loop's position for a single assignment.
type State string

const (
	// StateGenerated means an artifact has been produced and awaits
	// validation.
	StateGenerated State = "generated"
	// StateValidating means the artifact is being validated.
	StateValidating State = "validating"
	// StateAccepted means the artifact passed validation. Terminal.
	StateAccepted State = "accepted"
	// StateRejected means the artifact was rejected; the loop retries
	// with feedback while budget remains.
	StateRejected State = "rejected"
	// StateEscalated means the budget is exhausted and the assignment
	// was handed to the escalation sink. Terminal.
	StateEscalated State = "escalated"
)

// Artifact is the structured output of one execution attempt.
type Artifact struct {
	// Ref is an opaque reference to the produced artifact.
	Ref string `json:"ref"`
	// Summary is a short description of the artifact.
	Summary string `json:"summary,omitempty"`
}

// Verdict is the validator's decision on an artifact.
type Verdict struct {
	// Accepted indicates the artifact passed.
	Accepted bool `json:"accepted"`
	// Feedback explains a rejection; it is injected into the next
	// attempt.
	Feedback string `json:"feedback,omitempty"`
}

// Generator produces an artifact for an assignment. Feedback from the
// previous rejection, if any, is passed so the next attempt can address
// it.
type Generator interface {
	Execute(ctx context.Context, assignment *models.Assignment, feedback string) (*Artifact, error)
}

// Validator judges an artifact against the task's criteria.
type Validator interface {
	Validate(ctx context.Context, assignment *models.Assignment, artifact *Artifact) (Verdict, error)
}

// Sink receives assignments whose retry budget is exhausted, handing
// them to a human decision-maker.
type Sink interface {
	Escalate(ctx context.Context, esc *Escalation) error
}

// Attempt records a single execution-plus-validation round.
type Attempt struct {
	// Number is the attempt number, starting at 1.
	Number int `json:"number"`
	// ArtifactRef references the artifact produced this attempt, if any.
	ArtifactRef string `json:"artifact_ref,omitempty"`
	// Feedback is the rejection feedback from this attempt.
	Feedback string `json:"feedback,omitempty"`
	// State is the attempt's terminal state.
	State State `json:"state"`
	// FinishedAt is when the attempt resolved.
	FinishedAt time.Time `json:"finished_at"`
}

// Escalation carries the full rejection history of an exhausted
// assignment to a human-oversight sink.
type Escalation struct {
	// Assignment is the exhausted assignment.
	Assignment *models.Assignment `json:"assignment"`
	// Attempts is every attempt's record, in order.
	Attempts []Attempt `json:"attempts"`
	// Reason is a human-readable summary of the final rejection.
	Reason string `json:"reason"`
	// EscalatedAt is when the escalation was emitted.
	EscalatedAt time.Time `json:"escalated_at"`
}

// Result is the loop's terminal outcome for an assignment.
type Result struct {
	// State is StateAccepted or StateEscalated.
	State State `json:"state"`
	// Artifact is the accepted artifact, nil when escalated.
	Artifact *Artifact `json:"artifact,omitempty"`
	// Attempts is every attempt's record, in order.
	Attempts []Attempt `json:"attempts"`
}

// Config configures the loop.
type Config struct {
	// MaxRetries is the attempt budget per assignment.
	MaxRetries int
	// AttemptTimeout bounds a single generate-and-validate round. An
	// expired attempt counts as a rejection, not a hang. Zero disables
	// the per-attempt deadline.
	AttemptTimeout time.Duration
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		AttemptTimeout: 10 * time.Minute,
	}
}

// Loop drives an assignment through generate, validate, retry-with-
// feedback, and escalation.
type Loop struct {
	generator Generator
	validator Validator
	sink      Sink
	cfg       Config
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// NewLoop creates a Loop with the given collaborators.
func NewLoop(generator Generator, validator Validator, sink Sink, cfg Config) *Loop {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Loop{
		generator: generator,
		validator: validator,
		sink:      sink,
		cfg:       cfg,
		debugLog:  func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (l *Loop) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		l.debugLog = fn
	}
}

// Run executes the loop for one assignment. On acceptance it returns a
// StateAccepted result; when the retry budget is exhausted it emits
// exactly one escalation with the full attempt history, returns a
// StateEscalated result, and wraps ErrRetriesExhausted. A cancelled
// context aborts without escalating.
func (l *Loop) Run(ctx context.Context, assignment *models.Assignment) (*Result, error) {
	var attempts []Attempt
	feedback := ""

	for number := 1; number <= l.cfg.MaxRetries; number++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attempt, artifact := l.runAttempt(ctx, assignment, number, feedback)
		attempts = append(attempts, attempt)

		if attempt.State == StateAccepted {
			l.debugLog("[validation] assignment %s accepted on attempt %d", assignment.ID, number)
			return &Result{State: StateAccepted, Artifact: artifact, Attempts: attempts}, nil
		}
		if err := ctx.Err(); err != nil {
			// Batch cancellation, not a rejection; do not escalate.
			return nil, err
		}

		feedback = attempt.Feedback
		l.debugLog("[validation] assignment %s rejected on attempt %d: %s", assignment.ID, number, feedback)
	}

	esc := &Escalation{
		Assignment:  assignment,
		Attempts:    attempts,
		Reason:      fmt.Sprintf("rejected %d times, last feedback: %s", len(attempts), feedback),
		EscalatedAt: time.Now(),
	}
	if l.sink != nil {
		if err := l.sink.Escalate(ctx, esc); err != nil {
			l.debugLog("[validation] escalation sink failed for assignment %s: %v", assignment.ID, err)
		}
	}

	return &Result{State: StateEscalated, Attempts: attempts},
		fmt.Errorf("assignment %s: %w", assignment.ID, ErrRetriesExhausted)
}

// runAttempt performs one generate-and-validate round. Worker errors and
// deadline expiries become synthetic rejections so they flow through the
// same retry path as validator rejections.
func (l *Loop) runAttempt(ctx context.Context, assignment *models.Assignment, number int, feedback string) (Attempt, *Artifact) {
	attemptCtx := ctx
	if l.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, l.cfg.AttemptTimeout)
		defer cancel()
	}

	attempt := Attempt{Number: number}

	artifact, err := l.generator.Execute(attemptCtx, assignment, feedback)
	if err != nil {
		attempt.State = StateRejected
		attempt.Feedback = syntheticFeedback("worker execution failed", err)
		attempt.FinishedAt = time.Now()
		return attempt, nil
	}
	attempt.State = StateGenerated
	if artifact != nil {
		attempt.ArtifactRef = artifact.Ref
	}

	attempt.State = StateValidating
	verdict, err := l.validator.Validate(attemptCtx, assignment, artifact)
	if err != nil {
		attempt.State = StateRejected
		attempt.Feedback = syntheticFeedback("validation failed to run", err)
		attempt.FinishedAt = time.Now()
		return attempt, nil
	}

	if verdict.Accepted {
		attempt.State = StateAccepted
	} else {
		attempt.State = StateRejected
		attempt.Feedback = verdict.Feedback
	}
	attempt.FinishedAt = time.Now()
	return attempt, artifact
}

// syntheticFeedback converts a non-validation failure into rejection
// feedback for the next attempt.
func syntheticFeedback(what string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s: attempt timed out; produce the artifact within the deadline", what)
	}
	return fmt.Sprintf("%s: %v; address the error and retry", what, err)
}
