// Package tool wraps the external programs the orchestrator drives: git,
// ostree and flatpak-builder. Everything goes through the Runner
// interface so the pipeline can be tested without any of them installed.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrTimeout marks an invocation that exceeded its wall clock limit.
var ErrTimeout = errors.New("operation timed out")

// Result is the outcome of one subprocess invocation. Output holds the
// interleaved stdout and stderr, which is what lands in the build log.
type Result struct {
	ExitCode int
	Output   []byte
	Duration time.Duration
}

// Runner executes an external command in a working directory. A non-zero
// exit code is returned as an error alongside the captured output; a
// context deadline surfaces as ErrTimeout.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (*Result, error)
}

// ExecRunner runs commands as real subprocesses.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Run the command in its own process group so that cancellation
	// kills the whole tree. flatpak-builder spawns build systems that
	// would otherwise survive the kill and keep writing to the
	// workspace.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Output:   output.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return result, fmt.Errorf("%s timed out after %s: %w", name, result.Duration.Round(time.Second), ErrTimeout)
			}
			return result, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, fmt.Errorf("%s exited with code %d", name, result.ExitCode)
		}
		return result, fmt.Errorf("running %s: %w", name, err)
	}
	return result, nil
}

// firstLine trims a tool's output down to the single value commands like
// rev-parse print.
func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

var _ Runner = ExecRunner{}
