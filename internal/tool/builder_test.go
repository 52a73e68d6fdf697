package tool

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestFindManifest(t *testing.T) {
	const appID = "org.example.MyApp"

	t.Run("prefers app ID over generic name", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "flatpak.yml", "id: generic")
		want := writeFile(t, dir, appID+".json", "{}")

		got, err := FindManifest(dir, appID)
		if err != nil {
			t.Fatalf("FindManifest() error = %v", err)
		}
		if got != want {
			t.Errorf("FindManifest() = %q, want %q", got, want)
		}
	})

	t.Run("prefers yml over yaml over json", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, appID+".json", "{}")
		want := writeFile(t, dir, appID+".yaml", "id: x")

		got, err := FindManifest(dir, appID)
		if err != nil {
			t.Fatalf("FindManifest() error = %v", err)
		}
		if got != want {
			t.Errorf("FindManifest() = %q, want %q", got, want)
		}
	})

	t.Run("falls back to flatpak name", func(t *testing.T) {
		dir := t.TempDir()
		want := writeFile(t, dir, "flatpak.json", "{}")

		got, err := FindManifest(dir, appID)
		if err != nil {
			t.Fatalf("FindManifest() error = %v", err)
		}
		if got != want {
			t.Errorf("FindManifest() = %q, want %q", got, want)
		}
	})

	t.Run("no manifest", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "README.md", "nothing here")

		if _, err := FindManifest(dir, appID); err == nil {
			t.Error("FindManifest() expected error for empty checkout")
		}
	})

	t.Run("ignores directories with manifest names", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, appID+".yml"), 0o755); err != nil {
			t.Fatal(err)
		}
		want := writeFile(t, dir, "flatpak.yaml", "id: x")

		got, err := FindManifest(dir, appID)
		if err != nil {
			t.Fatalf("FindManifest() error = %v", err)
		}
		if got != want {
			t.Errorf("FindManifest() = %q, want %q", got, want)
		}
	})
}

func TestReadManifest(t *testing.T) {
	t.Run("yaml manifest", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "org.example.MyApp.yml",
			"app-id: org.example.MyApp\nversion: 1.2.3\nruntime: org.freedesktop.Platform\nruntime-version: \"23.08\"\nsdk: org.freedesktop.Sdk\n")

		m, err := ReadManifest(path)
		if err != nil {
			t.Fatalf("ReadManifest() error = %v", err)
		}
		if m.Version != "1.2.3" {
			t.Errorf("Version = %q, want 1.2.3", m.Version)
		}
		if m.Runtime != "org.freedesktop.Platform" || m.RuntimeVersion != "23.08" {
			t.Errorf("runtime = %q//%q, want org.freedesktop.Platform//23.08", m.Runtime, m.RuntimeVersion)
		}
		if m.Sdk != "org.freedesktop.Sdk" {
			t.Errorf("Sdk = %q, want org.freedesktop.Sdk", m.Sdk)
		}
	})

	t.Run("json manifest", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "flatpak.json", `{"id": "org.example.MyApp", "version": "2.0"}`)

		m, err := ReadManifest(path)
		if err != nil {
			t.Fatalf("ReadManifest() error = %v", err)
		}
		if m.Version != "2.0" {
			t.Errorf("Version = %q, want 2.0", m.Version)
		}
	})

	t.Run("missing version is not an error", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "flatpak.yml", "app-id: org.example.MyApp\n")

		m, err := ReadManifest(path)
		if err != nil {
			t.Fatalf("ReadManifest() error = %v", err)
		}
		if m.Version != "" {
			t.Errorf("Version = %q, want empty", m.Version)
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "flatpak.yml", "app-id: [unclosed")

		if _, err := ReadManifest(path); err == nil {
			t.Error("ReadManifest() expected error for malformed manifest")
		}
	})
}
