package tool

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// OSTree drives the ostree CLI against a repository directory.
type OSTree struct {
	runner Runner
}

func NewOSTree(runner Runner) *OSTree {
	return &OSTree{runner: runner}
}

// EnsureInit initializes repoPath as an archive-z2 repository if it does
// not already hold one. Archive mode is what flatpak clients pull from.
func (o *OSTree) EnsureInit(ctx context.Context, repoPath string) error {
	if _, err := os.Stat(repoPath + "/config"); err == nil {
		return nil
	}
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return fmt.Errorf("creating repository directory: %w", err)
	}
	if _, err := o.runner.Run(ctx, "", "ostree", "init", "--mode=archive-z2", "--repo="+repoPath); err != nil {
		return fmt.Errorf("initializing repository %s: %w", repoPath, err)
	}
	return nil
}

// Refs lists the refs present in the repository.
func (o *OSTree) Refs(ctx context.Context, repoPath string) ([]string, error) {
	result, err := o.runner.Run(ctx, "", "ostree", "refs", "--repo="+repoPath)
	if err != nil {
		return nil, fmt.Errorf("listing refs in %s: %w", repoPath, err)
	}
	var refs []string
	for _, line := range strings.Split(string(result.Output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			refs = append(refs, line)
		}
	}
	return refs, nil
}

// RevParse resolves a ref to its commit checksum.
func (o *OSTree) RevParse(ctx context.Context, repoPath, ref string) (string, error) {
	result, err := o.runner.Run(ctx, "", "ostree", "rev-parse", "--repo="+repoPath, ref)
	if err != nil {
		return "", fmt.Errorf("resolving ref %s: %w", ref, err)
	}
	return firstLine(result.Output), nil
}

// PullLocal copies a ref from srcPath into the repository at repoPath.
func (o *OSTree) PullLocal(ctx context.Context, repoPath, srcPath, ref string) error {
	if _, err := o.runner.Run(ctx, "", "ostree", "pull-local", "--repo="+repoPath, srcPath, ref); err != nil {
		return fmt.Errorf("pulling %s from %s: %w", ref, srcPath, err)
	}
	return nil
}

// SummaryUpdate regenerates the repository summary, signing it when a
// GPG key ID is given.
func (o *OSTree) SummaryUpdate(ctx context.Context, repoPath, gpgKeyID string) error {
	args := []string{"summary", "-u", "--repo=" + repoPath}
	if gpgKeyID != "" {
		args = append(args, "--gpg-sign="+gpgKeyID)
	}
	if _, err := o.runner.Run(ctx, "", "ostree", args...); err != nil {
		return fmt.Errorf("updating summary for %s: %w", repoPath, err)
	}
	return nil
}
