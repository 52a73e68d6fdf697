package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"flatman-go/internal/model"
	"flatman-go/internal/orchestrator"
)

// newTestStore creates a new in-memory store with schema applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:", nil, nil)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func createTestRepo(t *testing.T, store *SQLiteStore, name string) *model.Repository {
	t.Helper()

	repo := &model.Repository{Name: name, IsActive: true}
	if err := store.CreateRepository(context.Background(), repo); err != nil {
		t.Fatalf("CreateRepository(%s) error = %v", name, err)
	}
	return repo
}

func createTestPackage(t *testing.T, store *SQLiteStore, repoID, appID string) *model.Package {
	t.Helper()

	pkg := &model.Package{
		RepositoryID: repoID,
		AppID:        appID,
		Name:         appID,
		GitURL:       "https://example.com/" + appID + ".git",
		GitBranch:    "main",
		Branch:       "stable",
		Arch:         "x86_64",
	}
	if err := store.CreatePackage(context.Background(), pkg); err != nil {
		t.Fatalf("CreatePackage(%s) error = %v", appID, err)
	}
	return pkg
}

func TestSQLiteStore_Repositories(t *testing.T) {
	ctx := context.Background()

	t.Run("create and get by name", func(t *testing.T) {
		store := newTestStore(t)

		repo := &model.Repository{
			Name:         "stable",
			CollectionID: "org.example.Stable",
			GPGKeyID:     "ABCD1234",
			IsActive:     true,
			IsPublic:     true,
		}
		if err := store.CreateRepository(ctx, repo); err != nil {
			t.Fatalf("CreateRepository() error = %v", err)
		}
		if repo.ID == "" {
			t.Error("ID is empty")
		}

		found, err := store.GetRepositoryByName(ctx, "stable")
		if err != nil {
			t.Fatalf("GetRepositoryByName() error = %v", err)
		}
		if found.ID != repo.ID {
			t.Errorf("ID = %v, want %v", found.ID, repo.ID)
		}
		if found.GPGKeyID != "ABCD1234" {
			t.Errorf("GPGKeyID = %v, want ABCD1234", found.GPGKeyID)
		}
	})

	t.Run("duplicate name fails", func(t *testing.T) {
		store := newTestStore(t)

		createTestRepo(t, store, "stable")
		err := store.CreateRepository(ctx, &model.Repository{Name: "stable"})
		if !errors.Is(err, orchestrator.ErrDuplicate) {
			t.Errorf("error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("parent links round-trip", func(t *testing.T) {
		store := newTestStore(t)

		root := createTestRepo(t, store, "beta")
		promoted := &model.Repository{Name: "stable", ParentIDs: []string{root.ID}}
		if err := store.CreateRepository(ctx, promoted); err != nil {
			t.Fatalf("CreateRepository() error = %v", err)
		}

		found, err := store.GetRepository(ctx, promoted.ID)
		if err != nil {
			t.Fatalf("GetRepository() error = %v", err)
		}
		if len(found.ParentIDs) != 1 || found.ParentIDs[0] != root.ID {
			t.Errorf("ParentIDs = %v, want [%s]", found.ParentIDs, root.ID)
		}
		if !found.HasParents() {
			t.Error("HasParents() = false, want true")
		}
	})

	t.Run("not found", func(t *testing.T) {
		store := newTestStore(t)

		_, err := store.GetRepositoryByName(ctx, "nope")
		if !errors.Is(err, orchestrator.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list sorted by name", func(t *testing.T) {
		store := newTestStore(t)

		createTestRepo(t, store, "zeta")
		createTestRepo(t, store, "alpha")

		repos, err := store.ListRepositories(ctx)
		if err != nil {
			t.Fatalf("ListRepositories() error = %v", err)
		}
		if len(repos) != 2 {
			t.Fatalf("got %d repositories, want 2", len(repos))
		}
		if repos[0].Name != "alpha" || repos[1].Name != "zeta" {
			t.Errorf("order = [%s %s], want [alpha zeta]", repos[0].Name, repos[1].Name)
		}
	})
}

func TestSQLiteStore_Packages(t *testing.T) {
	ctx := context.Background()

	t.Run("create applies defaults", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")

		pkg := createTestPackage(t, store, repo.ID, "org.example.App")
		if pkg.Status != model.StatusPending {
			t.Errorf("Status = %v, want pending", pkg.Status)
		}
		if pkg.BuildCounter != 1 {
			t.Errorf("BuildCounter = %d, want 1", pkg.BuildCounter)
		}
		if pkg.ID == "" {
			t.Error("ID is empty")
		}
	})

	t.Run("duplicate identity fails", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")

		createTestPackage(t, store, repo.ID, "org.example.App")
		err := store.CreatePackage(ctx, &model.Package{
			RepositoryID: repo.ID,
			AppID:        "org.example.App",
			Branch:       "stable",
			Arch:         "x86_64",
		})
		if !errors.Is(err, orchestrator.ErrDuplicate) {
			t.Errorf("error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("same app on another branch is allowed", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")

		createTestPackage(t, store, repo.ID, "org.example.App")
		err := store.CreatePackage(ctx, &model.Package{
			RepositoryID: repo.ID,
			AppID:        "org.example.App",
			Branch:       "beta",
			Arch:         "x86_64",
		})
		if err != nil {
			t.Errorf("CreatePackage() error = %v", err)
		}
	})

	t.Run("delete cascades to builds and logs", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		_, build, err := store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, orchestrator.TransitionOptions{})
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if err := store.AppendLog(ctx, &model.LogEntry{BuildID: build.ID, Level: model.LogInfo, Message: "cloning"}); err != nil {
			t.Fatalf("AppendLog() error = %v", err)
		}

		if err := store.DeletePackage(ctx, pkg.ID); err != nil {
			t.Fatalf("DeletePackage() error = %v", err)
		}

		if _, err := store.GetBuild(ctx, build.ID); !errors.Is(err, orchestrator.ErrNotFound) {
			t.Errorf("GetBuild() error = %v, want ErrNotFound", err)
		}
		logs, err := store.ListLogs(ctx, build.ID)
		if err != nil {
			t.Fatalf("ListLogs() error = %v", err)
		}
		if len(logs) != 0 {
			t.Errorf("got %d log entries after delete, want 0", len(logs))
		}
	})

	t.Run("delete missing package", func(t *testing.T) {
		store := newTestStore(t)

		err := store.DeletePackage(ctx, "missing")
		if !errors.Is(err, orchestrator.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStore_Transition(t *testing.T) {
	ctx := context.Background()
	noOpts := orchestrator.TransitionOptions{}

	t.Run("entering building opens an attempt", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		got, build, err := store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, noOpts)
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if got.Status != model.StatusBuilding {
			t.Errorf("package status = %v, want building", got.Status)
		}
		if build == nil {
			t.Fatal("expected a build row")
		}
		if build.Attempt != 1 {
			t.Errorf("Attempt = %d, want 1", build.Attempt)
		}
		if build.Status != model.StatusBuilding {
			t.Errorf("build status = %v, want building", build.Status)
		}
		if build.StartedAt.IsZero() {
			t.Error("StartedAt is zero")
		}
		if build.CompletedAt != nil {
			t.Error("CompletedAt should be nil for an open attempt")
		}
	})

	t.Run("wrong precondition reports current status", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		_, _, err := store.Transition(ctx, pkg.ID, model.StatusBuilt, model.StatusCommitting, noOpts)
		var invalid *orchestrator.InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("error = %v, want InvalidTransitionError", err)
		}
		if invalid.From != model.StatusPending {
			t.Errorf("From = %v, want pending", invalid.From)
		}

		// The package is untouched.
		got, _ := store.GetPackage(ctx, pkg.ID)
		if got.Status != model.StatusPending {
			t.Errorf("status = %v, want pending", got.Status)
		}
	})

	t.Run("missing package", func(t *testing.T) {
		store := newTestStore(t)

		_, _, err := store.Transition(ctx, "missing", model.StatusPending, model.StatusBuilding, noOpts)
		if !errors.Is(err, orchestrator.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("terminal status closes the attempt", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, noOpts)
		_, build, err := store.Transition(ctx, pkg.ID, model.StatusBuilding, model.StatusFailed,
			orchestrator.TransitionOptions{ErrorMessage: "clone failed"})
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if build.Status != model.StatusFailed {
			t.Errorf("build status = %v, want failed", build.Status)
		}
		if build.ErrorMessage != "clone failed" {
			t.Errorf("ErrorMessage = %q, want %q", build.ErrorMessage, "clone failed")
		}
		if build.CompletedAt == nil {
			t.Error("CompletedAt should be set")
		}

		got, _ := store.GetPackage(ctx, pkg.ID)
		if got.ErrorMessage != "clone failed" {
			t.Errorf("package ErrorMessage = %q, want %q", got.ErrorMessage, "clone failed")
		}
	})

	t.Run("published sets published_at", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		for _, step := range [][2]model.Status{
			{model.StatusPending, model.StatusBuilding},
			{model.StatusBuilding, model.StatusBuilt},
			{model.StatusBuilt, model.StatusCommitting},
			{model.StatusCommitting, model.StatusCommitted},
			{model.StatusCommitted, model.StatusPublishing},
		} {
			if _, _, err := store.Transition(ctx, pkg.ID, step[0], step[1], noOpts); err != nil {
				t.Fatalf("Transition(%v -> %v) error = %v", step[0], step[1], err)
			}
		}

		_, build, err := store.Transition(ctx, pkg.ID, model.StatusPublishing, model.StatusPublished, noOpts)
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if build.PublishedAt == nil {
			t.Error("PublishedAt should be set")
		}
		if build.CompletedAt == nil {
			t.Error("CompletedAt should be set")
		}
	})

	t.Run("retry increments counter and clears error", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, noOpts)
		store.Transition(ctx, pkg.ID, model.StatusBuilding, model.StatusFailed,
			orchestrator.TransitionOptions{ErrorMessage: "boom"})

		got, _, err := store.Transition(ctx, pkg.ID, model.StatusFailed, model.StatusPending, noOpts)
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if got.BuildCounter != 2 {
			t.Errorf("BuildCounter = %d, want 2", got.BuildCounter)
		}
		if got.ErrorMessage != "" {
			t.Errorf("ErrorMessage = %q, want empty", got.ErrorMessage)
		}

		// A second attempt gets the new number; the first stays failed.
		_, build, err := store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, noOpts)
		if err != nil {
			t.Fatalf("Transition() error = %v", err)
		}
		if build.Attempt != 2 {
			t.Errorf("Attempt = %d, want 2", build.Attempt)
		}

		builds, _ := store.ListBuilds(ctx, pkg.ID)
		if len(builds) != 2 {
			t.Fatalf("got %d builds, want 2", len(builds))
		}
		if builds[1].Status != model.StatusFailed {
			t.Errorf("first attempt status = %v, want failed", builds[1].Status)
		}
	})

	t.Run("terminal status clears cancel flag", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, noOpts)
		if err := store.RequestCancel(ctx, pkg.ID); err != nil {
			t.Fatalf("RequestCancel() error = %v", err)
		}
		requested, _ := store.CancelRequested(ctx, pkg.ID)
		if !requested {
			t.Fatal("cancel flag should be set")
		}

		store.Transition(ctx, pkg.ID, model.StatusBuilding, model.StatusCancelled, noOpts)
		requested, _ = store.CancelRequested(ctx, pkg.ID)
		if requested {
			t.Error("cancel flag should be cleared by a terminal transition")
		}
	})
}

func TestSQLiteStore_RecordBuildResults(t *testing.T) {
	ctx := context.Background()

	t.Run("updates build and mirrors onto package", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		_, build, _ := store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, orchestrator.TransitionOptions{})

		err := store.RecordBuildResults(ctx, build.ID, orchestrator.BuildResults{
			Version:      "1.2.3",
			SourceCommit: "deadbeef",
		})
		if err != nil {
			t.Fatalf("RecordBuildResults() error = %v", err)
		}

		got, _ := store.GetBuild(ctx, build.ID)
		if got.Version != "1.2.3" || got.SourceCommit != "deadbeef" {
			t.Errorf("build = %q/%q, want 1.2.3/deadbeef", got.Version, got.SourceCommit)
		}

		p, _ := store.GetPackage(ctx, pkg.ID)
		if p.Version != "1.2.3" || p.SourceCommit != "deadbeef" {
			t.Errorf("package = %q/%q, want 1.2.3/deadbeef", p.Version, p.SourceCommit)
		}
	})

	t.Run("empty fields are left untouched", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")

		_, build, _ := store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, orchestrator.TransitionOptions{})
		store.RecordBuildResults(ctx, build.ID, orchestrator.BuildResults{Version: "1.0"})
		store.RecordBuildResults(ctx, build.ID, orchestrator.BuildResults{CommitHash: "ostree123"})

		got, _ := store.GetBuild(ctx, build.ID)
		if got.Version != "1.0" {
			t.Errorf("Version = %q, want 1.0", got.Version)
		}
		if got.CommitHash != "ostree123" {
			t.Errorf("CommitHash = %q, want ostree123", got.CommitHash)
		}
	})

	t.Run("missing build", func(t *testing.T) {
		store := newTestStore(t)

		err := store.RecordBuildResults(ctx, "missing", orchestrator.BuildResults{Version: "1.0"})
		if !errors.Is(err, orchestrator.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteStore_Logs(t *testing.T) {
	ctx := context.Background()

	t.Run("append order is preserved", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")
		pkg := createTestPackage(t, store, repo.ID, "org.example.App")
		_, build, _ := store.Transition(ctx, pkg.ID, model.StatusPending, model.StatusBuilding, orchestrator.TransitionOptions{})

		messages := []string{"cloning", "building", "done"}
		for _, msg := range messages {
			if err := store.AppendLog(ctx, &model.LogEntry{BuildID: build.ID, Level: model.LogInfo, Message: msg}); err != nil {
				t.Fatalf("AppendLog(%q) error = %v", msg, err)
			}
		}

		logs, err := store.ListLogs(ctx, build.ID)
		if err != nil {
			t.Fatalf("ListLogs() error = %v", err)
		}
		if len(logs) != len(messages) {
			t.Fatalf("got %d entries, want %d", len(logs), len(messages))
		}
		for i, msg := range messages {
			if logs[i].Message != msg {
				t.Errorf("logs[%d] = %q, want %q", i, logs[i].Message, msg)
			}
		}
	})
}

func TestSQLiteStore_SweepQueries(t *testing.T) {
	ctx := context.Background()
	noOpts := orchestrator.TransitionOptions{}

	t.Run("stale packages", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")

		active := createTestPackage(t, store, repo.ID, "org.example.Active")
		store.Transition(ctx, active.ID, model.StatusPending, model.StatusBuilding, noOpts)
		createTestPackage(t, store, repo.ID, "org.example.Idle")

		// Everything is fresh right now.
		stale, err := store.StalePackages(ctx, time.Now().UTC().Add(-time.Hour))
		if err != nil {
			t.Fatalf("StalePackages() error = %v", err)
		}
		if len(stale) != 0 {
			t.Errorf("got %d stale packages, want 0", len(stale))
		}

		// With a cutoff in the future the active package qualifies,
		// the pending one never does.
		stale, err = store.StalePackages(ctx, time.Now().UTC().Add(time.Hour))
		if err != nil {
			t.Fatalf("StalePackages() error = %v", err)
		}
		if len(stale) != 1 || stale[0].ID != active.ID {
			t.Errorf("stale = %v, want just the building package", stale)
		}
	})

	t.Run("pending source packages", func(t *testing.T) {
		store := newTestStore(t)
		repo := createTestRepo(t, store, "stable")

		src := createTestPackage(t, store, repo.ID, "org.example.Src")
		artifact := &model.Package{
			RepositoryID: repo.ID,
			AppID:        "org.example.Upload",
			Branch:       "stable",
			Arch:         "x86_64",
		}
		if err := store.CreatePackage(ctx, artifact); err != nil {
			t.Fatalf("CreatePackage() error = %v", err)
		}

		pending, err := store.PendingSourcePackages(ctx)
		if err != nil {
			t.Fatalf("PendingSourcePackages() error = %v", err)
		}
		if len(pending) != 1 || pending[0].ID != src.ID {
			t.Errorf("pending = %v, want just the source package", pending)
		}
	})
}

func TestSQLiteStore_CheckMigrations(t *testing.T) {
	t.Run("fails on DB without migrations applied", func(t *testing.T) {
		store, err := NewSQLiteStore(":memory:", nil, nil)
		if err != nil {
			t.Fatalf("NewSQLiteStore() error = %v", err)
		}
		defer store.Close()

		if err := store.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})

	t.Run("passes after migrate", func(t *testing.T) {
		store := newTestStore(t)

		if err := store.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})
}
