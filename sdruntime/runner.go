package sdruntime

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Runner executes the generator binary and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) RunResult
}

// RunResult is the outcome of one process execution.
type RunResult struct {
	// SpawnErr is set when the process could not be started.
	SpawnErr error

	// ExitCode is the process exit status; -1 if it never ran or was killed.
	ExitCode int

	// Stderr is everything the process wrote to standard error.
	Stderr []byte

	// Duration is wall time from start to exit.
	Duration time.Duration
}

// Success reports whether the process ran and exited with status zero.
func (r RunResult) Success() bool {
	return r.SpawnErr == nil && r.ExitCode == 0
}

// ExecRunner runs the generator with os/exec. Standard output is discarded
// and standard error is captured in full.
type ExecRunner struct {
	// WaitDelay bounds how long Run waits for stderr to close after the
	// process is killed on context cancellation.
	WaitDelay time.Duration
}

// NewExecRunner returns an ExecRunner with a 5 second wait delay.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{WaitDelay: 5 * time.Second}
}

// Run starts binary with args and blocks until it exits or ctx is done, in
// which case the process is killed.
func (r *ExecRunner) Run(ctx context.Context, binary string, args []string) RunResult {
	start := time.Now()

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.WaitDelay = r.WaitDelay

	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return RunResult{SpawnErr: err, ExitCode: -1, Duration: time.Since(start)}
	}

	err := cmd.Wait()
	result := RunResult{
		ExitCode: 0,
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result
	}

	// the process exited cleanly but a child kept stderr open
	if errors.Is(err, exec.ErrWaitDelay) {
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode() // -1 when killed by a signal
		return result
	}

	// I/O failure while copying stderr
	result.ExitCode = -1
	if stderr.Len() == 0 {
		result.Stderr = []byte(err.Error())
	}
	return result
}
