// Package exec runs the commands the producer emits. Commands run on the
// local system in a shell; the loop relays combined output back to the
// producer on the next iteration.
package exec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command when the caller sets none.
const DefaultTimeout = 5 * time.Minute

// Opts contains options for command execution.
type Opts struct {
	// Env contains extra environment variables (KEY=VALUE format),
	// appended to the current environment.
	Env []string

	// Timeout is the maximum duration for command execution.
	Timeout time.Duration

	// WorkDir is the working directory for the command.
	WorkDir string
}

// Result contains the result of command execution. A non-zero ExitCode is
// not an error; the caller decides what to do with failures.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
	ExitCode int
	TimedOut bool
}

// Local executes commands directly on the local system.
type Local struct{}

// NewLocal creates a local executor.
func NewLocal() *Local {
	return &Local{}
}

// Run executes a command locally with the given options.
func (e *Local) Run(ctx context.Context, cmd []string, opts Opts) (Result, error) {
	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("command cannot be empty")
	}

	startTime := time.Now()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(ctx, cmd[0], cmd[1:]...)

	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); os.IsNotExist(err) {
			return Result{}, fmt.Errorf("working directory does not exist: %s", opts.WorkDir)
		}
		execCmd.Dir = opts.WorkDir
	}

	if len(opts.Env) > 0 {
		execCmd.Env = append(os.Environ(), opts.Env...)
	}

	var stdoutBuf, stderrBuf strings.Builder
	execCmd.Stdout = &stdoutBuf
	execCmd.Stderr = &stderrBuf

	err := execCmd.Run()

	result := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(startTime),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("command execution failed: %w", err)
	}
	return result, nil
}
