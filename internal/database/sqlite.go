package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"flatman-go/internal/database/migrations"
	"flatman-go/internal/model"
	"flatman-go/internal/orchestrator"
)

// SQLiteStore implements the orchestrator.Store interface using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	clock orchestrator.Clock
	idgen orchestrator.IDGenerator
	path  string
}

// NewSQLiteStore creates a new SQLite-backed store.
// path can be a file path or ":memory:" for an in-memory database.
// clock and idgen may be nil, in which case real implementations are used.
func NewSQLiteStore(path string, clock orchestrator.Clock, idgen orchestrator.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStoreFromDB(db, clock, idgen), nil
}

// NewSQLiteStoreFromDB wraps an existing database connection. The caller
// is responsible for ensuring the connection is properly configured.
func NewSQLiteStoreFromDB(db *sql.DB, clock orchestrator.Clock, idgen orchestrator.IDGenerator) *SQLiteStore {
	if clock == nil {
		clock = orchestrator.RealClock{}
	}
	if idgen == nil {
		idgen = orchestrator.UUIDGenerator{}
	}
	return &SQLiteStore{db: db, clock: clock, idgen: idgen}
}

// OpenConnection opens and configures a SQLite database connection with
// appropriate PRAGMAs. path can be a file path or ":memory:".
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Foreign keys drive the cascade deletes (SQLite default is OFF).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// The control surface and worker pool share this database, so wait
	// for locks instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if path == ":memory:" {
		// Each connection of an in-memory database sees its own empty
		// database; keep everything on one connection.
		db.SetMaxOpenConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}

	return db, nil
}

// DB exposes the underlying connection so the task queue can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Migrate brings the schema to the latest version.
func (s *SQLiteStore) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// Repository operations

func (s *SQLiteStore) CreateRepository(ctx context.Context, repo *model.Repository) error {
	now := s.clock.Now().UTC()
	if repo.ID == "" {
		repo.ID = s.idgen.New()
	}
	repo.CreatedAt = now
	repo.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO repositories (id, name, collection_id, gpg_key_id, is_active, is_public, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.Name, repo.CollectionID, repo.GPGKeyID, repo.IsActive, repo.IsPublic, repo.CreatedAt, repo.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("repository %q: %w", repo.Name, orchestrator.ErrDuplicate)
		}
		return fmt.Errorf("inserting repository: %w", err)
	}

	for _, parentID := range repo.ParentIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repository_parents (repository_id, parent_id) VALUES (?, ?)`,
			repo.ID, parentID); err != nil {
			return fmt.Errorf("linking parent repository %s: %w", parentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*model.Repository, error) {
	return s.getRepository(ctx, "id = ?", id)
}

func (s *SQLiteStore) GetRepositoryByName(ctx context.Context, name string) (*model.Repository, error) {
	return s.getRepository(ctx, "name = ?", name)
}

func (s *SQLiteStore) getRepository(ctx context.Context, cond string, arg any) (*model.Repository, error) {
	var repo model.Repository
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, collection_id, gpg_key_id, is_active, is_public, created_at, updated_at
		FROM repositories WHERE `+cond, arg).Scan(
		&repo.ID, &repo.Name, &repo.CollectionID, &repo.GPGKeyID,
		&repo.IsActive, &repo.IsPublic, &repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("repository: %w", orchestrator.ErrNotFound)
		}
		return nil, fmt.Errorf("loading repository: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_id FROM repository_parents WHERE repository_id = ?`, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("loading repository parents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var parentID string
		if err := rows.Scan(&parentID); err != nil {
			return nil, fmt.Errorf("scanning parent id: %w", err)
		}
		repo.ParentIDs = append(repo.ParentIDs, parentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating repository parents: %w", err)
	}

	return &repo, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*model.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning repository name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating repositories: %w", err)
	}

	repos := make([]*model.Repository, 0, len(names))
	for _, name := range names {
		repo, err := s.GetRepositoryByName(ctx, name)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

// Package operations

const packageColumns = `id, repository_id, app_id, name, version, git_url, git_branch,
	branch, arch, status, build_counter, source_commit, commit_hash,
	error_message, cancel_requested, created_by, created_at, updated_at`

func scanPackage(row interface{ Scan(...any) error }) (*model.Package, error) {
	var pkg model.Package
	err := row.Scan(
		&pkg.ID, &pkg.RepositoryID, &pkg.AppID, &pkg.Name, &pkg.Version,
		&pkg.GitURL, &pkg.GitBranch, &pkg.Branch, &pkg.Arch, &pkg.Status,
		&pkg.BuildCounter, &pkg.SourceCommit, &pkg.CommitHash,
		&pkg.ErrorMessage, &pkg.CancelRequested, &pkg.CreatedBy,
		&pkg.CreatedAt, &pkg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (s *SQLiteStore) CreatePackage(ctx context.Context, pkg *model.Package) error {
	now := s.clock.Now().UTC()
	if pkg.ID == "" {
		pkg.ID = s.idgen.New()
	}
	if pkg.Status == "" {
		pkg.Status = model.StatusPending
	}
	if pkg.BuildCounter == 0 {
		pkg.BuildCounter = 1
	}
	pkg.CreatedAt = now
	pkg.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO packages (`+packageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pkg.ID, pkg.RepositoryID, pkg.AppID, pkg.Name, pkg.Version,
		pkg.GitURL, pkg.GitBranch, pkg.Branch, pkg.Arch, pkg.Status,
		pkg.BuildCounter, pkg.SourceCommit, pkg.CommitHash,
		pkg.ErrorMessage, pkg.CancelRequested, pkg.CreatedBy,
		pkg.CreatedAt, pkg.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("package %s/%s/%s: %w", pkg.AppID, pkg.Arch, pkg.Branch, orchestrator.ErrDuplicate)
		}
		return fmt.Errorf("inserting package: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPackage(ctx context.Context, id string) (*model.Package, error) {
	pkg, err := scanPackage(s.db.QueryRowContext(ctx, `
		SELECT `+packageColumns+` FROM packages WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("package %s: %w", id, orchestrator.ErrNotFound)
		}
		return nil, fmt.Errorf("loading package: %w", err)
	}
	return pkg, nil
}

func (s *SQLiteStore) ListPackages(ctx context.Context) ([]*model.Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+packageColumns+` FROM packages ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*model.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating packages: %w", err)
	}
	return pkgs, nil
}

func (s *SQLiteStore) DeletePackage(ctx context.Context, id string) error {
	// Builds, logs and artifacts cascade via foreign keys.
	res, err := s.db.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting package: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("package %s: %w", id, orchestrator.ErrNotFound)
	}
	return nil
}

// Transition applies one edge of the state machine atomically. The
// package row is compare-and-swapped on its current status; the side
// effects of the edge (attempt creation, build mirroring, counter bump)
// happen in the same transaction.
func (s *SQLiteStore) Transition(ctx context.Context, packageID string, from, to model.Status, opts orchestrator.TransitionOptions) (*model.Package, *model.Build, error) {
	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE packages SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, now, packageID, from)
	if err != nil {
		return nil, nil, fmt.Errorf("updating package status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		// Either the package is gone or a concurrent transition won the
		// race. Report the actual current status.
		var current model.Status
		err := tx.QueryRowContext(ctx, `SELECT status FROM packages WHERE id = ?`, packageID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("package %s: %w", packageID, orchestrator.ErrNotFound)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("loading package status: %w", err)
		}
		return nil, nil, &orchestrator.InvalidTransitionError{From: current, To: to}
	}

	switch {
	case to == model.StatusBuilding:
		// Opening a new attempt: snapshot the package into a build row.
		pkg, err := scanPackage(tx.QueryRowContext(ctx, `
			SELECT `+packageColumns+` FROM packages WHERE id = ?`, packageID))
		if err != nil {
			return nil, nil, fmt.Errorf("loading package for attempt: %w", err)
		}
		buildID := s.idgen.New()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO builds (id, package_id, attempt, version, source_commit, commit_hash, status, error_message, started_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
			buildID, packageID, pkg.BuildCounter, pkg.Version, pkg.SourceCommit, pkg.CommitHash,
			model.StatusBuilding, now, now)
		if err != nil {
			return nil, nil, fmt.Errorf("creating build attempt: %w", err)
		}

	case to == model.StatusPending:
		// Retry: open the next attempt number and clear the failure.
		_, err := tx.ExecContext(ctx, `
			UPDATE packages SET build_counter = build_counter + 1, error_message = '', cancel_requested = 0, updated_at = ?
			WHERE id = ?`, now, packageID)
		if err != nil {
			return nil, nil, fmt.Errorf("resetting package for retry: %w", err)
		}

	default:
		// Mirror the status onto the active attempt, closing it when the
		// status is terminal. An already-terminal attempt is never touched.
		var buildID string
		var buildStatus model.Status
		err := tx.QueryRowContext(ctx, `
			SELECT id, status FROM builds WHERE package_id = ? ORDER BY attempt DESC LIMIT 1`,
			packageID).Scan(&buildID, &buildStatus)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, nil, fmt.Errorf("loading active build: %w", err)
		}
		if err == nil && !buildStatus.Terminal() {
			set := `status = ?`
			args := []any{to}
			if to.Terminal() {
				set += `, completed_at = ?`
				args = append(args, now)
			}
			if to == model.StatusPublished {
				set += `, published_at = ?`
				args = append(args, now)
			}
			if opts.ErrorMessage != "" {
				set += `, error_message = ?`
				args = append(args, opts.ErrorMessage)
			}
			args = append(args, buildID)
			if _, err := tx.ExecContext(ctx, `UPDATE builds SET `+set+` WHERE id = ?`, args...); err != nil {
				return nil, nil, fmt.Errorf("mirroring status onto build: %w", err)
			}
		}
		if opts.ErrorMessage != "" {
			if _, err := tx.ExecContext(ctx, `
				UPDATE packages SET error_message = ? WHERE id = ?`, opts.ErrorMessage, packageID); err != nil {
				return nil, nil, fmt.Errorf("recording package error: %w", err)
			}
		}
		if to.Terminal() {
			if _, err := tx.ExecContext(ctx, `
				UPDATE packages SET cancel_requested = 0 WHERE id = ?`, packageID); err != nil {
				return nil, nil, fmt.Errorf("clearing cancel flag: %w", err)
			}
		}
	}

	pkg, err := scanPackage(tx.QueryRowContext(ctx, `
		SELECT `+packageColumns+` FROM packages WHERE id = ?`, packageID))
	if err != nil {
		return nil, nil, fmt.Errorf("reloading package: %w", err)
	}

	var build *model.Build
	b, err := scanBuild(tx.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE package_id = ? ORDER BY attempt DESC LIMIT 1`, packageID))
	if err == nil {
		build = b
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("reloading build: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("committing transaction: %w", err)
	}
	return pkg, build, nil
}

func (s *SQLiteStore) RequestCancel(ctx context.Context, packageID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE packages SET cancel_requested = 1, updated_at = ? WHERE id = ?`,
		s.clock.Now().UTC(), packageID)
	if err != nil {
		return fmt.Errorf("requesting cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("package %s: %w", packageID, orchestrator.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) CancelRequested(ctx context.Context, packageID string) (bool, error) {
	var requested bool
	err := s.db.QueryRowContext(ctx, `
		SELECT cancel_requested FROM packages WHERE id = ?`, packageID).Scan(&requested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("package %s: %w", packageID, orchestrator.ErrNotFound)
		}
		return false, fmt.Errorf("reading cancel flag: %w", err)
	}
	return requested, nil
}

// Build operations

const buildColumns = `id, package_id, attempt, version, source_commit, commit_hash,
	status, error_message, started_at, completed_at, published_at, created_at`

func scanBuild(row interface{ Scan(...any) error }) (*model.Build, error) {
	var b model.Build
	var completedAt, publishedAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.PackageID, &b.Attempt, &b.Version, &b.SourceCommit,
		&b.CommitHash, &b.Status, &b.ErrorMessage, &b.StartedAt,
		&completedAt, &publishedAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		b.CompletedAt = &t
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		b.PublishedAt = &t
	}
	return &b, nil
}

func (s *SQLiteStore) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	b, err := scanBuild(s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("build %s: %w", id, orchestrator.ErrNotFound)
		}
		return nil, fmt.Errorf("loading build: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) LatestBuild(ctx context.Context, packageID string) (*model.Build, error) {
	b, err := scanBuild(s.db.QueryRowContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE package_id = ? ORDER BY attempt DESC LIMIT 1`, packageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no builds for package %s: %w", packageID, orchestrator.ErrNotFound)
		}
		return nil, fmt.Errorf("loading latest build: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListBuilds(ctx context.Context, packageID string) ([]*model.Build, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+buildColumns+` FROM builds WHERE package_id = ? ORDER BY attempt DESC`, packageID)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var builds []*model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating builds: %w", err)
	}
	return builds, nil
}

func (s *SQLiteStore) RecordBuildResults(ctx context.Context, buildID string, results orchestrator.BuildResults) error {
	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var packageID string
	if err := tx.QueryRowContext(ctx, `SELECT package_id FROM builds WHERE id = ?`, buildID).Scan(&packageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("build %s: %w", buildID, orchestrator.ErrNotFound)
		}
		return fmt.Errorf("loading build: %w", err)
	}

	apply := func(table, idCol, id string) error {
		set := ""
		var args []any
		add := func(col, val string) {
			if val == "" {
				return
			}
			if set != "" {
				set += ", "
			}
			set += col + " = ?"
			args = append(args, val)
		}
		add("version", results.Version)
		add("source_commit", results.SourceCommit)
		add("commit_hash", results.CommitHash)
		if set == "" {
			return nil
		}
		if table == "packages" {
			set += ", updated_at = ?"
			args = append(args, now)
		}
		args = append(args, id)
		_, err := tx.ExecContext(ctx, `UPDATE `+table+` SET `+set+` WHERE `+idCol+` = ?`, args...)
		return err
	}

	if err := apply("builds", "id", buildID); err != nil {
		return fmt.Errorf("recording build results: %w", err)
	}
	// Mirror onto the package as its latest known values. The bumped
	// updated_at doubles as the progress marker the sweep watches.
	if err := apply("packages", "id", packageID); err != nil {
		return fmt.Errorf("mirroring results onto package: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Log operations

func (s *SQLiteStore) AppendLog(ctx context.Context, entry *model.LogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO build_logs (build_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		entry.BuildID, entry.Level, entry.Message, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending log entry: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListLogs(ctx context.Context, buildID string) ([]*model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, level, message, created_at
		FROM build_logs WHERE build_id = ? ORDER BY id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("listing logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.BuildID, &e.Level, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating logs: %w", err)
	}
	return entries, nil
}

// Artifact operations

func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact *model.Artifact) error {
	if artifact.ID == "" {
		artifact.ID = s.idgen.New()
	}
	if artifact.UploadedAt.IsZero() {
		artifact.UploadedAt = s.clock.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, build_id, filename, size, content_type, path, checksum, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID, artifact.BuildID, artifact.Filename, artifact.Size,
		artifact.ContentType, artifact.Path, artifact.Checksum, artifact.UploadedAt)
	if err != nil {
		return fmt.Errorf("inserting artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, buildID string) ([]*model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, build_id, filename, size, content_type, path, checksum, uploaded_at
		FROM artifacts WHERE build_id = ? ORDER BY uploaded_at`, buildID)
	if err != nil {
		return nil, fmt.Errorf("listing artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.ID, &a.BuildID, &a.Filename, &a.Size, &a.ContentType, &a.Path, &a.Checksum, &a.UploadedAt); err != nil {
			return nil, fmt.Errorf("scanning artifact: %w", err)
		}
		artifacts = append(artifacts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artifacts: %w", err)
	}
	return artifacts, nil
}

// Sweep support

func (s *SQLiteStore) StalePackages(ctx context.Context, cutoff time.Time) ([]*model.Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+packageColumns+` FROM packages
		WHERE status IN (?, ?, ?) AND updated_at < ?`,
		model.StatusBuilding, model.StatusCommitting, model.StatusPublishing, cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("listing stale packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*model.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stale package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale packages: %w", err)
	}
	return pkgs, nil
}

func (s *SQLiteStore) PendingSourcePackages(ctx context.Context) ([]*model.Package, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+packageColumns+` FROM packages
		WHERE status = ? AND git_url != ''`, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending packages: %w", err)
	}
	defer rows.Close()

	var pkgs []*model.Package
	for rows.Next() {
		pkg, err := scanPackage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning pending package: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pending packages: %w", err)
	}
	return pkgs, nil
}

// Compile-time check that SQLiteStore implements orchestrator.Store.
var _ orchestrator.Store = (*SQLiteStore)(nil)
