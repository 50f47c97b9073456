package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/conductor/internal/planner"
	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/selector"
	"github.com/kestrelworks/conductor/internal/validation"
	"github.com/kestrelworks/conductor/pkg/models"
)

// DefaultMaxInFlight bounds concurrent assignment dispatches per batch.
const DefaultMaxInFlight = 20

// Config contains configuration options for the Coordinator.
type Config struct {
	// Registry is the capability registry. Required.
	Registry *registry.Registry
	// Executor produces artifacts for assignments. Required.
	Executor validation.Generator
	// Validator judges produced artifacts. Required.
	Validator validation.Validator
	// Sink receives escalations. If nil, escalations are recorded in
	// the report only.
	Sink validation.Sink
	// Analyzer extracts requirements from raw descriptions. Only needed
	// for Submit; Run accepts already-analyzed tasks.
	Analyzer Analyzer
	// Store persists execution reports. If nil, reports are returned
	// but not persisted.
	Store ReportStore
	// Selector overrides the default selector built on Registry.
	Selector *selector.Selector
	// MaxInFlight bounds concurrent dispatches. Zero means the default.
	MaxInFlight int
	// MaxRetries is the per-assignment attempt budget. Zero means the
	// validation default.
	MaxRetries int
	// AssignmentTimeout bounds each generate-and-validate attempt.
	AssignmentTimeout time.Duration
}

// Coordinator drives task batches through selection, planning, and
// phase-by-phase dispatch with a validation loop around each assignment.
type Coordinator struct {
	registry *registry.Registry
	selector *selector.Selector
	planner  *planner.Planner
	loop     *validation.Loop
	analyzer Analyzer
	store    ReportStore

	maxInFlight int
	emitter     *EventEmitter
}

// New creates a Coordinator with the given configuration.
func New(cfg Config) *Coordinator {
	sel := cfg.Selector
	if sel == nil {
		sel = selector.New(cfg.Registry)
	}

	loopCfg := validation.DefaultConfig()
	if cfg.MaxRetries > 0 {
		loopCfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.AssignmentTimeout > 0 {
		loopCfg.AttemptTimeout = cfg.AssignmentTimeout
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	p := planner.New()
	p.SetDebugLog(debugLog)
	loop := validation.NewLoop(cfg.Executor, cfg.Validator, cfg.Sink, loopCfg)
	loop.SetDebugLog(debugLog)
	cfg.Registry.SetDebugLog(debugLog)

	return &Coordinator{
		registry:    cfg.Registry,
		selector:    sel,
		planner:     p,
		loop:        loop,
		analyzer:    cfg.Analyzer,
		store:       cfg.Store,
		maxInFlight: maxInFlight,
		emitter:     NewEventEmitter(100),
	}
}

// Events returns the channel for receiving coordinator events.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// Submit analyzes raw descriptions into tasks and runs them as a batch.
func (c *Coordinator) Submit(ctx context.Context, descriptions []TaskDescription) (*models.Report, error) {
	if c.analyzer == nil {
		return nil, fmt.Errorf("submit: no analyzer configured")
	}

	tasks := make([]*models.Task, 0, len(descriptions))
	for _, desc := range descriptions {
		task, err := c.analyzer.Analyze(ctx, desc)
		if err != nil {
			return nil, fmt.Errorf("submit: %w: %v", ErrAnalysisFailed, err)
		}
		tasks = append(tasks, task)
	}
	return c.Run(ctx, tasks)
}

// Run executes a batch of analyzed tasks: select workers, build the
// plan, dispatch phase by phase, and produce the execution report.
// Selection and planning errors abort the whole batch before any
// dispatch; the returned report distinguishes such planning failures
// from execution failures.
func (c *Coordinator) Run(ctx context.Context, tasks []*models.Task) (*models.Report, error) {
	batchID := uuid.New().String()[:8]
	report := &models.Report{
		BatchID:   batchID,
		Status:    models.BatchPlanning,
		StartedAt: time.Now(),
	}

	// Capability coverage and gaps are captured at planning time.
	stats := c.registry.Stats()
	report.Coverage = stats.Coverage
	report.Gaps = stats.Gaps

	debugLog("[coordinator] batch %s: planning %d tasks", batchID, len(tasks))

	assignments, plan, err := c.plan(tasks)
	if err != nil {
		report.Status = models.BatchFailed
		report.FailureKind = models.FailurePlanning
		report.PlanningError = err.Error()
		c.finish(report, err)
		return report, err
	}
	report.Plan = plan
	report.TotalCost = plan.TotalCost
	report.Status = models.BatchDispatching

	c.emitter.Emit(Event{
		Type:      EventBatchPlanned,
		BatchID:   batchID,
		Message:   fmt.Sprintf("%d assignments in %d phases", len(assignments), len(plan.Phases)),
		Timestamp: time.Now(),
	})

	outcomes, cancelled := c.dispatch(ctx, batchID, plan, tasks)
	report.Outcomes = outcomes
	report.Status = terminalStatus(outcomes, cancelled)
	if report.Status == models.BatchFailed {
		report.FailureKind = models.FailureExecution
	}

	c.finish(report, nil)
	return report, nil
}

// plan selects workers for every task and builds the execution plan.
func (c *Coordinator) plan(tasks []*models.Task) ([]*models.Assignment, *models.Plan, error) {
	var assignments []*models.Assignment
	for _, task := range tasks {
		selected, err := c.selector.Select(task, selector.Constraints{})
		if err != nil {
			return nil, nil, err
		}
		assignments = append(assignments, selected...)
	}

	plan, err := c.planner.Plan(assignments)
	if err != nil {
		return nil, nil, err
	}
	return assignments, plan, nil
}

// dispatch runs the plan phase by phase. Each phase's assignments run
// concurrently, bounded by the in-flight limit, and the phase barrier
// waits for every assignment to reach a terminal state before the next
// phase is admitted. Returns the per-assignment outcomes and whether
// the batch was cancelled.
func (c *Coordinator) dispatch(ctx context.Context, batchID string, plan *models.Plan, tasks []*models.Task) ([]models.Outcome, bool) {
	taskByID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}

	sem := make(chan struct{}, c.maxInFlight)
	var mu sync.Mutex
	var outcomes []models.Outcome
	// unmet records tasks that did not reach acceptance, blocking their
	// dependents.
	unmet := make(map[string]bool)

	record := func(o models.Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, o)
		if o.Status != models.TaskStatusAccepted {
			unmet[o.TaskID] = true
		}
	}
	blocked := func(deps []string) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		for _, dep := range deps {
			if unmet[dep] {
				return dep, true
			}
		}
		return "", false
	}

	for _, phase := range plan.Phases {
		if ctx.Err() != nil {
			c.emitter.Emit(Event{
				Type:      EventBatchCancelled,
				BatchID:   batchID,
				Phase:     phase.Index,
				Timestamp: time.Now(),
			})
			return outcomes, true
		}

		c.emitter.Emit(Event{
			Type:      EventPhaseStarted,
			BatchID:   batchID,
			Phase:     phase.Index,
			Message:   fmt.Sprintf("%d assignments", len(phase.Assignments)),
			Timestamp: time.Now(),
		})
		debugLog("[coordinator] batch %s: phase %d with %d assignments", batchID, phase.Index, len(phase.Assignments))

		var wg sync.WaitGroup
		for _, a := range phase.Assignments {
			// A failed dependency resolves the assignment without
			// dispatch: skipped when the task is optional, failed
			// otherwise. Either way it is reported, never dropped.
			if dep, isBlocked := blocked(a.DependsOn); isBlocked {
				c.resolveBlocked(batchID, a, taskByID[a.TaskID], dep, record)
				continue
			}

			wg.Add(1)
			go func(a *models.Assignment) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				c.runAssignment(ctx, batchID, a, record)
			}(a)
		}
		wg.Wait() // phase barrier

		c.emitter.Emit(Event{
			Type:      EventPhaseCompleted,
			BatchID:   batchID,
			Phase:     phase.Index,
			Timestamp: time.Now(),
		})
	}

	return outcomes, ctx.Err() != nil
}

// runAssignment drives one assignment through the validation loop and
// feeds the observed performance back into the registry. No registry
// lock is held while the worker call is in flight.
func (c *Coordinator) runAssignment(ctx context.Context, batchID string, a *models.Assignment, record func(models.Outcome)) {
	c.emitter.Emit(Event{
		Type:      EventAssignmentStarted,
		BatchID:   batchID,
		TaskID:    a.TaskID,
		WorkerID:  a.WorkerID,
		Timestamp: time.Now(),
	})

	if err := c.registry.UpdateLoad(a.WorkerID, 1); err != nil {
		debugLog("[coordinator] load increment for %s failed: %v", a.WorkerID, err)
	}
	start := time.Now()
	result, err := c.loop.Run(ctx, a)
	duration := time.Since(start).Seconds()
	if lerr := c.registry.UpdateLoad(a.WorkerID, -1); lerr != nil {
		debugLog("[coordinator] load decrement for %s failed: %v", a.WorkerID, lerr)
	}

	if result == nil {
		// Cancellation before a terminal state.
		record(models.Outcome{
			TaskID:   a.TaskID,
			WorkerID: a.WorkerID,
			Status:   models.TaskStatusFailed,
			Error:    err.Error(),
			Duration: duration,
		})
		return
	}

	attempts := len(result.Attempts)
	retries := attempts - 1
	accepted := result.State == validation.StateAccepted
	if perr := c.registry.UpdatePerformance(a.WorkerID, accepted, duration, retries); perr != nil {
		debugLog("[coordinator] performance update for %s failed: %v", a.WorkerID, perr)
	}

	outcome := models.Outcome{
		TaskID:   a.TaskID,
		WorkerID: a.WorkerID,
		Attempts: attempts,
		Duration: duration,
	}
	if accepted {
		outcome.Status = models.TaskStatusAccepted
		if result.Artifact != nil {
			outcome.ArtifactRef = result.Artifact.Ref
		}
		c.emitter.Emit(Event{
			Type:      EventAssignmentAccepted,
			BatchID:   batchID,
			TaskID:    a.TaskID,
			WorkerID:  a.WorkerID,
			Timestamp: time.Now(),
		})
	} else {
		outcome.Status = models.TaskStatusEscalated
		outcome.Error = err.Error()
		c.emitter.Emit(Event{
			Type:      EventAssignmentEscalated,
			BatchID:   batchID,
			TaskID:    a.TaskID,
			WorkerID:  a.WorkerID,
			Error:     err,
			Timestamp: time.Now(),
		})
	}
	record(outcome)
}

// resolveBlocked reports an assignment whose dependency did not reach
// acceptance.
func (c *Coordinator) resolveBlocked(batchID string, a *models.Assignment, task *models.Task, dep string, record func(models.Outcome)) {
	optional := task != nil && task.OptionalTask
	outcome := models.Outcome{
		TaskID:   a.TaskID,
		WorkerID: a.WorkerID,
		Error:    fmt.Sprintf("dependency %s did not complete", dep),
	}
	eventType := EventAssignmentFailed
	if optional {
		outcome.Status = models.TaskStatusSkipped
		eventType = EventAssignmentSkipped
	} else {
		outcome.Status = models.TaskStatusFailed
	}
	debugLog("[coordinator] batch %s: assignment for task %s %s (dependency %s)", batchID, a.TaskID, outcome.Status, dep)

	c.emitter.Emit(Event{
		Type:      eventType,
		BatchID:   batchID,
		TaskID:    a.TaskID,
		WorkerID:  a.WorkerID,
		Message:   outcome.Error,
		Timestamp: time.Now(),
	})
	record(outcome)
}

// terminalStatus derives the batch status from per-assignment outcomes.
func terminalStatus(outcomes []models.Outcome, cancelled bool) models.BatchStatus {
	if cancelled {
		return models.BatchCancelled
	}

	escalated := false
	for _, o := range outcomes {
		switch o.Status {
		case models.TaskStatusFailed:
			return models.BatchFailed
		case models.TaskStatusEscalated:
			escalated = true
		}
	}
	if escalated {
		return models.BatchEscalated
	}
	return models.BatchCompleted
}

// finish stamps the report, persists it, and emits the terminal event.
func (c *Coordinator) finish(report *models.Report, err error) {
	report.FinishedAt = time.Now()

	if c.store != nil {
		if serr := c.store.SaveReport(report); serr != nil {
			debugLog("[coordinator] saving report for batch %s failed: %v", report.BatchID, serr)
		}
	}

	eventType := EventBatchCompleted
	switch report.Status {
	case models.BatchFailed:
		eventType = EventBatchFailed
	case models.BatchCancelled:
		eventType = EventBatchCancelled
	}
	c.emitter.Emit(Event{
		Type:      eventType,
		BatchID:   report.BatchID,
		Message:   string(report.Status),
		Error:     err,
		Timestamp: time.Now(),
	})
	debugLog("[coordinator] batch %s finished with status %s", report.BatchID, report.Status)
}
