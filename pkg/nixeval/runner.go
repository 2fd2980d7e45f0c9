package nixeval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Output is the captured result of one evaluator process.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner starts one evaluator process and waits for it. It returns an error
// only when the process could not be run at all; a non-zero exit is
// reported through Output.ExitCode.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (*Output, error)
}

// ExecRunner runs the evaluator on the local machine.
type ExecRunner struct {
	// Env, when set, replaces the child's environment.
	Env []string
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string) (*Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if r.Env != nil {
		cmd.Env = r.Env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute %s: %w", name, err)
		}
		out.ExitCode = exitErr.ExitCode()
	}

	return out, nil
}
