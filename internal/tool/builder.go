package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Builder drives flatpak-builder against a source checkout.
type Builder struct {
	runner Runner
}

func NewBuilder(runner Runner) *Builder {
	return &Builder{runner: runner}
}

// FindManifest locates the flatpak manifest in a checkout. Candidates
// are tried in order: the app ID under every extension first, then the
// generic flatpak name.
func FindManifest(checkoutDir, appID string) (string, error) {
	var candidates []string
	for _, base := range []string{appID, "flatpak"} {
		for _, ext := range []string{".yml", ".yaml", ".json"} {
			candidates = append(candidates, base+ext)
		}
	}
	for _, name := range candidates {
		path := filepath.Join(checkoutDir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("no manifest found in checkout (tried %s)", strings.Join(candidates, ", "))
}

// Manifest is the subset of a flatpak manifest the orchestrator reads.
type Manifest struct {
	AppID          string `json:"app-id" yaml:"app-id"`
	ID             string `json:"id" yaml:"id"`
	Branch         string `json:"branch" yaml:"branch"`
	Version        string `json:"version" yaml:"version"`
	Runtime        string `json:"runtime" yaml:"runtime"`
	RuntimeVersion string `json:"runtime-version" yaml:"runtime-version"`
	Sdk            string `json:"sdk" yaml:"sdk"`
}

// ReadManifest parses a manifest file by extension. A manifest without a
// version field is not an error; builds are tracked by commit hash
// regardless.
func ReadManifest(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var m Manifest
	if strings.HasSuffix(manifestPath, ".json") {
		err = json.Unmarshal(data, &m)
	} else {
		err = yaml.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", filepath.Base(manifestPath), err)
	}
	return &m, nil
}

// Build runs flatpak-builder, exporting the result into the repository
// at repoPath under the given default branch.
func (b *Builder) Build(ctx context.Context, checkoutDir, manifestPath, buildDir, repoPath, branch string) (*Result, error) {
	args := []string{
		"--force-clean",
		"--repo", repoPath,
	}
	if branch != "" {
		args = append(args, "--default-branch", branch)
	}
	args = append(args, buildDir, manifestPath)

	result, err := b.runner.Run(ctx, checkoutDir, "flatpak-builder", args...)
	if err != nil {
		return result, fmt.Errorf("building %s: %w", filepath.Base(manifestPath), err)
	}
	return result, nil
}
