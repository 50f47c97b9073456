// Package executor runs command-backed workers: each assignment shells
// out to the worker's configured command, and validation runs the
// worker's validate command against the produced artifact.
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/kestrelworks/conductor/internal/registry"
	"github.com/kestrelworks/conductor/internal/validation"
	"github.com/kestrelworks/conductor/pkg/models"
)

// ErrNoCommand indicates the assigned worker has no execution command.
var ErrNoCommand = errors.New("worker has no command")

// CommandExecutor implements the generation side of the validation loop
// by invoking the assigned worker's shell command. The command receives
// the assignment through environment variables and writes its artifact
// to the path in CONDUCTOR_ARTIFACT.
type CommandExecutor struct {
	registry    *registry.Registry
	runner      CommandRunner
	workDir     string
	artifactDir string
}

// NewCommandExecutor creates an executor writing artifacts under
// artifactDir.
func NewCommandExecutor(reg *registry.Registry, artifactDir string) *CommandExecutor {
	return &CommandExecutor{
		registry:    reg,
		runner:      NewShellRunner(),
		artifactDir: artifactDir,
	}
}

// SetRunner overrides the shell runner, for tests.
func (e *CommandExecutor) SetRunner(r CommandRunner) {
	e.runner = r
}

// SetWorkDir sets the working directory for worker commands.
func (e *CommandExecutor) SetWorkDir(dir string) {
	e.workDir = dir
}

// Execute runs the worker's command for the assignment. Rejection
// feedback from the previous attempt, if any, is passed through
// CONDUCTOR_FEEDBACK so the worker can address it.
func (e *CommandExecutor) Execute(ctx context.Context, a *models.Assignment, feedback string) (*validation.Artifact, error) {
	w, err := e.registry.Get(a.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}
	if w.Command == "" {
		return nil, fmt.Errorf("executor: worker %s: %w", w.ID, ErrNoCommand)
	}

	if err := os.MkdirAll(e.artifactDir, 0755); err != nil {
		return nil, fmt.Errorf("executor: create artifact dir: %w", err)
	}
	artifactPath := filepath.Join(e.artifactDir, a.ID)

	env := []string{
		"CONDUCTOR_ASSIGNMENT_ID=" + a.ID,
		"CONDUCTOR_TASK_ID=" + a.TaskID,
		"CONDUCTOR_WORKER_ID=" + a.WorkerID,
		"CONDUCTOR_ARTIFACT=" + artifactPath,
		"CONDUCTOR_FEEDBACK=" + feedback,
	}

	output, err := e.runner.RunShell(ctx, e.workDir, w.Command, env)
	if err != nil {
		return nil, fmt.Errorf("executor: worker %s: %w: %s", w.ID, err, tail(output))
	}

	return &validation.Artifact{
		Ref:     artifactPath,
		Summary: tail(output),
	}, nil
}

// CommandValidator implements the validation side of the loop by
// invoking the assigned worker's validate command. A worker without a
// validate command has its artifacts accepted as-is.
type CommandValidator struct {
	registry *registry.Registry
	runner   CommandRunner
	workDir  string
}

// NewCommandValidator creates a validator reading worker descriptors
// from the registry.
func NewCommandValidator(reg *registry.Registry) *CommandValidator {
	return &CommandValidator{
		registry: reg,
		runner:   NewShellRunner(),
	}
}

// SetRunner overrides the shell runner, for tests.
func (v *CommandValidator) SetRunner(r CommandRunner) {
	v.runner = r
}

// SetWorkDir sets the working directory for validate commands.
func (v *CommandValidator) SetWorkDir(dir string) {
	v.workDir = dir
}

// Validate runs the worker's validate command against the artifact.
// Exit status zero accepts; nonzero rejects with the command output as
// feedback for the next attempt.
func (v *CommandValidator) Validate(ctx context.Context, a *models.Assignment, artifact *validation.Artifact) (validation.Verdict, error) {
	w, err := v.registry.Get(a.WorkerID)
	if err != nil {
		return validation.Verdict{}, fmt.Errorf("validator: %w", err)
	}
	if w.ValidateCommand == "" {
		return validation.Verdict{Accepted: true}, nil
	}

	env := []string{
		"CONDUCTOR_ASSIGNMENT_ID=" + a.ID,
		"CONDUCTOR_TASK_ID=" + a.TaskID,
		"CONDUCTOR_ARTIFACT=" + artifact.Ref,
	}

	output, err := v.runner.RunShell(ctx, v.workDir, w.ValidateCommand, env)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return validation.Verdict{Accepted: false, Feedback: tail(output)}, nil
		}
		return validation.Verdict{}, fmt.Errorf("validator: worker %s: %w", w.ID, err)
	}
	return validation.Verdict{Accepted: true}, nil
}

// tail returns the last few lines of command output, trimmed.
func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	lines := strings.Split(s, "\n")
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}
	return strings.Join(lines, "\n")
}
