package executor

import (
	"context"
	"os/exec"
)

// CommandRunner abstracts shell execution so worker invocations can be
// mocked in tests.
type CommandRunner interface {
	// RunShell executes a shell command through "sh -c" with the given
	// environment appended and returns combined stdout/stderr output.
	RunShell(ctx context.Context, workDir string, command string, env []string) (output []byte, err error)
}

// ShellRunner implements CommandRunner using os/exec.
type ShellRunner struct{}

// NewShellRunner creates a new ShellRunner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// RunShell executes a shell command through "sh -c".
func (r *ShellRunner) RunShell(ctx context.Context, workDir string, command string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	return cmd.CombinedOutput()
}

// Verify ShellRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ShellRunner)(nil)
