package testutil

import (
	"context"
	"fmt"
	"sync"

	"flatman-go/internal/tool"
)

// RunFunc scripts one external command for the FakeRunner.
type RunFunc func(ctx context.Context, dir string, args []string) (*tool.Result, error)

// FakeRunner is a tool.Runner that dispatches to scripted handlers by
// command name instead of spawning subprocesses. Unhandled commands
// succeed with empty output, so tests only script what they assert on.
type FakeRunner struct {
	mu       sync.Mutex
	calls    map[string][][]string
	handlers map[string]RunFunc
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		calls:    make(map[string][][]string),
		handlers: make(map[string]RunFunc),
	}
}

// Handle scripts the behavior of one command name.
func (r *FakeRunner) Handle(name string, fn RunFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Fail scripts a command to exit non-zero with the given output.
func (r *FakeRunner) Fail(name string, exitCode int, output string) {
	r.Handle(name, func(context.Context, string, []string) (*tool.Result, error) {
		return &tool.Result{ExitCode: exitCode, Output: []byte(output)},
			fmt.Errorf("%s exited with code %d", name, exitCode)
	})
}

// Succeed scripts a command to exit zero with the given output.
func (r *FakeRunner) Succeed(name string, output string) {
	r.Handle(name, func(context.Context, string, []string) (*tool.Result, error) {
		return &tool.Result{Output: []byte(output)}, nil
	})
}

func (r *FakeRunner) Run(ctx context.Context, dir string, name string, args ...string) (*tool.Result, error) {
	r.mu.Lock()
	r.calls[name] = append(r.calls[name], append([]string(nil), args...))
	fn := r.handlers[name]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &tool.Result{}, err
	}
	if fn != nil {
		return fn(ctx, dir, args)
	}
	return &tool.Result{}, nil
}

// Calls returns the recorded argument lists for a command name.
func (r *FakeRunner) Calls(name string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls[name]...)
}

var _ tool.Runner = (*FakeRunner)(nil)
