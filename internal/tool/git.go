package tool

import (
	"context"
	"fmt"
)

// Git drives the git CLI for source checkouts.
type Git struct {
	runner Runner
}

func NewGit(runner Runner) *Git {
	return &Git{runner: runner}
}

// Clone checks out a single branch at depth 1, submodules included. dest
// must not exist yet.
func (g *Git) Clone(ctx context.Context, url, branch, dest string) (*Result, error) {
	args := []string{"clone"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args,
		"--depth", "1",
		"--recurse-submodules",
		"--shallow-submodules",
		url, dest)

	result, err := g.runner.Run(ctx, "", "git", args...)
	if err != nil {
		return result, fmt.Errorf("cloning %s: %w", url, err)
	}
	return result, nil
}

// RevParse returns the commit hash of HEAD in the checkout at dir.
func (g *Git) RevParse(ctx context.Context, dir string) (string, error) {
	result, err := g.runner.Run(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return firstLine(result.Output), nil
}
