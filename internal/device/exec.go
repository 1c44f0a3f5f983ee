package device

import (
	"context"
	"fmt"
	"os/exec"
)

// ExecRunner runs commands through a local shell.
type ExecRunner struct {
	shell string
}

// NewExecRunner uses shell, or /bin/sh when empty.
func NewExecRunner(shell string) *ExecRunner {
	if shell == "" {
		shell = "/bin/sh"
	}
	return &ExecRunner{shell: shell}
}

// Run executes command with "sh -c" and returns combined output.
func (r *ExecRunner) Run(ctx context.Context, command string) (string, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-c", command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("command failed: %w", err)
	}
	return string(out), nil
}

// Check verifies the shell exists.
func (r *ExecRunner) Check(ctx context.Context) error {
	if _, err := exec.LookPath(r.shell); err != nil {
		return fmt.Errorf("shell %s: %w", r.shell, err)
	}
	return nil
}
