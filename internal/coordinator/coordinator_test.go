package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/validation"
	"github.com/kestrelworks/conductor/pkg/models"
)

// stubExecutor accepts every assignment unless a task ID is listed in
// rejectTasks, in which case every attempt for it is rejected downstream
// by the stub validator.
type stubExecutor struct {
	mu   sync.Mutex
	runs map[string]int
}

func newStubExecutor() *stubExecutor {
	return &stubExecutor{runs: make(map[string]int)}
}

func (e *stubExecutor) Execute(_ context.Context, a *models.Assignment, _ string) (*validation.Artifact, error) {
	e.mu.Lock()
	e.runs[a.TaskID]++
	e.mu.Unlock()
	return &validation.Artifact{Ref: "artifact-" + a.TaskID}, nil
}

func (e *stubExecutor) runCount(taskID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[taskID]
}

type stubValidator struct {
	rejectTasks map[string]bool
}

func (v *stubValidator) Validate(_ context.Context, a *models.Assignment, _ *validation.Artifact) (validation.Verdict, error) {
	if v.rejectTasks[a.TaskID] {
		return validation.Verdict{Accepted: false, Feedback: "not good enough"}, nil
	}
	return validation.Verdict{Accepted: true}, nil
}

type countingSink struct {
	mu          sync.Mutex
	escalations []*validation.Escalation
}

func (s *countingSink) Escalate(_ context.Context, esc *validation.Escalation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, esc)
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.escalations)
}

type memoryStore struct {
	mu      sync.Mutex
	reports []*models.Report
}

func (m *memoryStore) SaveReport(r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	workers := []*models.Worker{
		{ID: "builder-1", Name: "Builder", Category: "engineering", Capabilities: []models.Capability{"build"}, MaxParallel: 4},
		{ID: "tester-1", Name: "Tester", Category: "engineering", Capabilities: []models.Capability{"test"}, MaxParallel: 4},
	}
	for _, w := range workers {
		if err := reg.Register(w); err != nil {
			t.Fatalf("register %s: %v", w.ID, err)
		}
	}
	return reg
}

func findOutcome(t *testing.T, outcomes []models.Outcome, taskID string) models.Outcome {
	t.Helper()
	for _, o := range outcomes {
		if o.TaskID == taskID {
			return o
		}
	}
	t.Fatalf("no outcome for task %s", taskID)
	return models.Outcome{}
}

func TestRunCompletesDependentTasksInOrder(t *testing.T) {
	reg := testRegistry(t)
	exec := newStubExecutor()
	store := &memoryStore{}
	coord := New(Config{
		Registry:  reg,
		Executor:  exec,
		Validator: &stubValidator{},
		Store:     store,
	})

	tasks := []*models.Task{
		{ID: "build", Required: []models.Capability{"build"}, Complexity: models.ComplexityMedium},
		{ID: "test", Required: []models.Capability{"test"}, Complexity: models.ComplexityMedium, DependsOn: []string{"build"}},
	}

	report, err := coord.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Status != models.BatchCompleted {
		t.Fatalf("status = %s, want %s", report.Status, models.BatchCompleted)
	}
	if len(report.Plan.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(report.Plan.Phases))
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}
	for _, id := range []string{"build", "test"} {
		o := findOutcome(t, report.Outcomes, id)
		if o.Status != models.TaskStatusAccepted {
			t.Errorf("task %s status = %s, want accepted", id, o.Status)
		}
		if o.ArtifactRef != "artifact-"+id {
			t.Errorf("task %s artifact ref = %q", id, o.ArtifactRef)
		}
		if o.Attempts != 1 {
			t.Errorf("task %s attempts = %d, want 1", id, o.Attempts)
		}
	}
	if len(store.reports) != 1 {
		t.Errorf("expected 1 saved report, got %d", len(store.reports))
	}
	if _, ok := report.Coverage["build"]; !ok {
		t.Errorf("report coverage missing build capability")
	}
}

func TestRunPlanningFailureProducesNoDispatch(t *testing.T) {
	reg := testRegistry(t)
	exec := newStubExecutor()
	coord := New(Config{
		Registry:  reg,
		Executor:  exec,
		Validator: &stubValidator{},
	})

	tasks := []*models.Task{
		{ID: "deploy", Required: []models.Capability{"deploy"}, Complexity: models.ComplexityLow},
	}

	report, err := coord.Run(context.Background(), tasks)
	if err == nil {
		t.Fatal("expected error for unsatisfiable capability")
	}
	if report.Status != models.BatchFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if report.FailureKind != models.FailurePlanning {
		t.Errorf("failure kind = %s, want planning", report.FailureKind)
	}
	if report.PlanningError == "" {
		t.Error("expected planning error to be recorded")
	}
	if exec.runCount("deploy") != 0 {
		t.Errorf("executor ran %d times, want 0", exec.runCount("deploy"))
	}
	if len(report.Outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(report.Outcomes))
	}
}

func TestRunEscalationBlocksNonOptionalDependent(t *testing.T) {
	reg := testRegistry(t)
	exec := newStubExecutor()
	sink := &countingSink{}
	coord := New(Config{
		Registry:   reg,
		Executor:   exec,
		Validator:  &stubValidator{rejectTasks: map[string]bool{"build": true}},
		Sink:       sink,
		MaxRetries: 2,
	})

	tasks := []*models.Task{
		{ID: "build", Required: []models.Capability{"build"}, Complexity: models.ComplexityMedium},
		{ID: "test", Required: []models.Capability{"test"}, Complexity: models.ComplexityMedium, DependsOn: []string{"build"}},
	}

	report, err := coord.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Status != models.BatchFailed {
		t.Fatalf("status = %s, want failed", report.Status)
	}
	if report.FailureKind != models.FailureExecution {
		t.Errorf("failure kind = %s, want execution", report.FailureKind)
	}
	if sink.count() != 1 {
		t.Errorf("expected 1 escalation, got %d", sink.count())
	}

	build := findOutcome(t, report.Outcomes, "build")
	if build.Status != models.TaskStatusEscalated {
		t.Errorf("build status = %s, want escalated", build.Status)
	}
	if build.Attempts != 2 {
		t.Errorf("build attempts = %d, want 2", build.Attempts)
	}
	test := findOutcome(t, report.Outcomes, "test")
	if test.Status != models.TaskStatusFailed {
		t.Errorf("test status = %s, want failed", test.Status)
	}
	if exec.runCount("test") != 0 {
		t.Errorf("blocked task ran %d times, want 0", exec.runCount("test"))
	}
}

func TestRunSkipsOptionalDependentOfEscalatedTask(t *testing.T) {
	reg := testRegistry(t)
	exec := newStubExecutor()
	coord := New(Config{
		Registry:   reg,
		Executor:   exec,
		Validator:  &stubValidator{rejectTasks: map[string]bool{"build": true}},
		Sink:       &countingSink{},
		MaxRetries: 1,
	})

	tasks := []*models.Task{
		{ID: "build", Required: []models.Capability{"build"}, Complexity: models.ComplexityMedium},
		{ID: "lint", Required: []models.Capability{"test"}, Complexity: models.ComplexityTrivial, DependsOn: []string{"build"}, OptionalTask: true},
	}

	report, err := coord.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// An optional task skipped over a failed dependency does not fail
	// the batch; the escalation determines the terminal status.
	if report.Status != models.BatchEscalated {
		t.Fatalf("status = %s, want escalated", report.Status)
	}
	lint := findOutcome(t, report.Outcomes, "lint")
	if lint.Status != models.TaskStatusSkipped {
		t.Errorf("lint status = %s, want skipped", lint.Status)
	}
	if exec.runCount("lint") != 0 {
		t.Errorf("skipped task ran %d times, want 0", exec.runCount("lint"))
	}
}

func TestRunCancelledContextStopsBetweenPhases(t *testing.T) {
	reg := testRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())

	exec := &cancellingExecutor{cancel: cancel}
	coord := New(Config{
		Registry:  reg,
		Executor:  exec,
		Validator: &stubValidator{},
	})

	tasks := []*models.Task{
		{ID: "build", Required: []models.Capability{"build"}, Complexity: models.ComplexityMedium},
		{ID: "test", Required: []models.Capability{"test"}, Complexity: models.ComplexityMedium, DependsOn: []string{"build"}},
	}

	report, err := coord.Run(ctx, tasks)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if report.Status != models.BatchCancelled {
		t.Fatalf("status = %s, want cancelled", report.Status)
	}
	// The first phase completed before cancellation and stays reported.
	build := findOutcome(t, report.Outcomes, "build")
	if build.Status != models.TaskStatusAccepted {
		t.Errorf("build status = %s, want accepted", build.Status)
	}
	for _, o := range report.Outcomes {
		if o.TaskID == "test" {
			t.Error("second phase dispatched after cancellation")
		}
	}
}

// cancellingExecutor cancels the batch context after its first
// successful execution, simulating an operator abort mid-batch.
type cancellingExecutor struct {
	cancel context.CancelFunc
}

func (e *cancellingExecutor) Execute(_ context.Context, a *models.Assignment, _ string) (*validation.Artifact, error) {
	defer e.cancel()
	return &validation.Artifact{Ref: "artifact-" + a.TaskID}, nil
}

func TestRunFeedsPerformanceBackIntoRegistry(t *testing.T) {
	reg := testRegistry(t)
	coord := New(Config{
		Registry:  reg,
		Executor:  newStubExecutor(),
		Validator: &stubValidator{},
	})

	tasks := []*models.Task{
		{ID: "build", Required: []models.Capability{"build"}, Complexity: models.ComplexityMedium},
	}
	if _, err := coord.Run(context.Background(), tasks); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	w, err := reg.Get("builder-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Performance.Samples != 1 {
		t.Fatalf("expected 1 performance sample, got %+v", w.Performance)
	}
	if w.Performance.SuccessRate != 1.0 {
		t.Errorf("success rate = %f, want 1.0", w.Performance.SuccessRate)
	}
	if w.ActiveTasks != 0 {
		t.Errorf("active tasks = %d, want 0 after completion", w.ActiveTasks)
	}
}

func TestSubmitRunsAnalyzedTasks(t *testing.T) {
	reg := testRegistry(t)
	coord := New(Config{
		Registry:  reg,
		Executor:  newStubExecutor(),
		Validator: &stubValidator{},
		Analyzer:  analyzerFunc(analyzeBuild),
	})

	report, err := coord.Submit(context.Background(), []TaskDescription{
		{Description: "compile the service"},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if report.Status != models.BatchCompleted {
		t.Fatalf("status = %s, want completed", report.Status)
	}
	if len(report.Outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(report.Outcomes))
	}
}

type analyzerFunc func(ctx context.Context, desc TaskDescription) (*models.Task, error)

func (f analyzerFunc) Analyze(ctx context.Context, desc TaskDescription) (*models.Task, error) {
	return f(ctx, desc)
}

func analyzeBuild(_ context.Context, _ TaskDescription) (*models.Task, error) {
	return &models.Task{ID: "build", Required: []models.Capability{"build"}, Complexity: models.ComplexityLow}, nil
}

func TestEventEmitterDropsWhenFull(t *testing.T) {
	emitter := NewEventEmitter(1)
	emitter.Emit(Event{Type: EventPhaseStarted, Timestamp: time.Now()})
	emitter.Emit(Event{Type: EventPhaseCompleted, Timestamp: time.Now()})

	if emitter.DroppedCount() != 1 {
		t.Errorf("dropped count = %d, want 1", emitter.DroppedCount())
	}
	select {
	case ev := <-emitter.Events():
		if ev.Type != EventPhaseStarted {
			t.Errorf("event type = %s, want phase_started", ev.Type)
		}
	default:
		t.Fatal("expected buffered event")
	}
}
