package executor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/validation"
	"github.com/kestrelworks/conductor/pkg/models"
)

// fakeRunner records invocations and returns scripted results.
type fakeRunner struct {
	commands []string
	env      [][]string
	output   []byte
	err      error
}

func (r *fakeRunner) RunShell(_ context.Context, _ string, command string, env []string) ([]byte, error) {
	r.commands = append(r.commands, command)
	r.env = append(r.env, env)
	return r.output, r.err
}

func setupRegistry(t *testing.T, w *models.Worker) *registry.Registry {
	t.Helper()
	reg := registry.New()
	if err := reg.Register(w); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func testAssignment() *models.Assignment {
	return &models.Assignment{
		ID:       "asg-1",
		TaskID:   "build",
		WorkerID: "builder-1",
	}
}

func TestExecuteRunsWorkerCommand(t *testing.T) {
	reg := setupRegistry(t, &models.Worker{
		ID:           "builder-1",
		Capabilities: []models.Capability{"build"},
		Command:      "make build",
	})
	runner := &fakeRunner{output: []byte("compiled ok\n")}

	exe := NewCommandExecutor(reg, t.TempDir())
	exe.SetRunner(runner)

	artifact, err := exe.Execute(context.Background(), testAssignment(), "fix the lint errors")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if artifact.Summary != "compiled ok" {
		t.Errorf("summary = %q", artifact.Summary)
	}
	if filepath.Base(artifact.Ref) != "asg-1" {
		t.Errorf("artifact ref = %q, want path ending in assignment id", artifact.Ref)
	}
	if len(runner.commands) != 1 || runner.commands[0] != "make build" {
		t.Errorf("commands = %v", runner.commands)
	}

	joined := strings.Join(runner.env[0], "\n")
	if !strings.Contains(joined, "CONDUCTOR_TASK_ID=build") {
		t.Errorf("task id not passed in env: %v", runner.env[0])
	}
	if !strings.Contains(joined, "CONDUCTOR_FEEDBACK=fix the lint errors") {
		t.Errorf("feedback not passed in env: %v", runner.env[0])
	}
}

func TestExecuteRejectsWorkerWithoutCommand(t *testing.T) {
	reg := setupRegistry(t, &models.Worker{
		ID:           "builder-1",
		Capabilities: []models.Capability{"build"},
	})

	exe := NewCommandExecutor(reg, t.TempDir())
	exe.SetRunner(&fakeRunner{})

	_, err := exe.Execute(context.Background(), testAssignment(), "")
	if !errors.Is(err, ErrNoCommand) {
		t.Errorf("err = %v, want ErrNoCommand", err)
	}
}

func TestExecuteSurfacesCommandFailure(t *testing.T) {
	reg := setupRegistry(t, &models.Worker{
		ID:           "builder-1",
		Capabilities: []models.Capability{"build"},
		Command:      "make build",
	})
	runner := &fakeRunner{output: []byte("compile error"), err: errors.New("exit status 2")}

	exe := NewCommandExecutor(reg, t.TempDir())
	exe.SetRunner(runner)

	_, err := exe.Execute(context.Background(), testAssignment(), "")
	if err == nil {
		t.Fatal("expected error from failing command")
	}
	if !strings.Contains(err.Error(), "compile error") {
		t.Errorf("error does not carry command output: %v", err)
	}
}

func TestValidateAcceptsWithoutValidateCommand(t *testing.T) {
	reg := setupRegistry(t, &models.Worker{
		ID:           "builder-1",
		Capabilities: []models.Capability{"build"},
		Command:      "make build",
	})

	v := NewCommandValidator(reg)
	v.SetRunner(&fakeRunner{})

	verdict, err := v.Validate(context.Background(), testAssignment(), &validation.Artifact{Ref: "/tmp/a"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !verdict.Accepted {
		t.Error("expected acceptance when no validate command is set")
	}
}

func TestValidateRejectsOnNonzeroExit(t *testing.T) {
	reg := setupRegistry(t, &models.Worker{
		ID:              "builder-1",
		Capabilities:    []models.Capability{"build"},
		Command:         "make build",
		ValidateCommand: "make check",
	})
	// A real ExitError so the validator treats it as a rejection
	exitErr := exec.Command("sh", "-c", "exit 1").Run()
	runner := &fakeRunner{output: []byte("3 tests failed"), err: exitErr}

	v := NewCommandValidator(reg)
	v.SetRunner(runner)

	verdict, err := v.Validate(context.Background(), testAssignment(), &validation.Artifact{Ref: "/tmp/a"})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if verdict.Accepted {
		t.Error("expected rejection on nonzero exit")
	}
	if verdict.Feedback != "3 tests failed" {
		t.Errorf("feedback = %q", verdict.Feedback)
	}
}

func TestFileSinkAppendsEscalations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escalations.jsonl")
	sink := NewFileSink(path)

	esc := &validation.Escalation{
		Assignment:  testAssignment(),
		Reason:      "rejected 3 times",
		EscalatedAt: time.Now(),
	}
	if err := sink.Escalate(context.Background(), esc); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if err := sink.Escalate(context.Background(), esc); err != nil {
		t.Fatalf("second Escalate failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sink file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded validation.Escalation
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("decode escalation line: %v", err)
	}
	if decoded.Reason != "rejected 3 times" {
		t.Errorf("reason = %q", decoded.Reason)
	}
}
