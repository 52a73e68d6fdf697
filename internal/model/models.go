package model

import "time"

// Status is the lifecycle state shared by Package (current state) and
// Build (per-attempt state). Values are stored as strings in the database.
type Status string

const (
	StatusPending    Status = "pending"
	StatusBuilding   Status = "building"
	StatusBuilt      Status = "built"
	StatusCommitting Status = "committing"
	StatusCommitted  Status = "committed"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final for a build attempt.
// A failed or cancelled Package may still be retried, which opens a new
// attempt; the old Build keeps its terminal status forever.
func (s Status) Terminal() bool {
	return s == StatusPublished || s == StatusFailed || s == StatusCancelled
}

// Active reports whether an operation is currently in flight.
func (s Status) Active() bool {
	return s == StatusBuilding || s == StatusCommitting || s == StatusPublishing
}

// Valid reports whether s is one of the nine defined states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBuilding, StatusBuilt, StatusCommitting,
		StatusCommitted, StatusPublishing, StatusPublished, StatusFailed,
		StatusCancelled:
		return true
	}
	return false
}

// Workflow tells the executor how a package's content comes into being.
type Workflow string

const (
	// WorkflowSource builds from a git repository via flatpak-builder.
	WorkflowSource Workflow = "source"
	// WorkflowArtifact expects pre-built content to be uploaded; the
	// control surface marks the package built once the upload completes.
	WorkflowArtifact Workflow = "artifact"
)

// Repository is a named OSTree repository that published builds land in.
type Repository struct {
	ID           string   // UUID
	Name         string   // Unique name, also its directory under the repos base path
	CollectionID string   // OSTree collection ID (e.g. org.example.Repo)
	GPGKeyID     string   // Signing key ID; empty means unsigned
	ParentIDs    []string // Parent repositories; non-empty forbids direct builds
	IsActive     bool
	IsPublic     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParents reports whether this repository is a promotion target.
// Builds land only in root repositories.
func (r *Repository) HasParents() bool { return len(r.ParentIDs) > 0 }

// Package is the logical identity "this app, this branch, this arch, in
// this repository" plus its current state. Status and BuildCounter are
// written only through the transition guard.
type Package struct {
	ID              string // UUID
	RepositoryID    string // Foreign key to Repository
	AppID           string // Reverse-DNS application ID (e.g. org.example.MyApp)
	Name            string // Human-readable name
	Version         string // Latest known application version
	GitURL          string // Source repository URL; empty implies the artifact workflow
	GitBranch       string // Source branch to build
	Branch          string // Flatpak branch label (stable/beta/...)
	Arch            string // Target architecture
	Status          Status
	BuildCounter    int    // Current attempt number; starts at 1, increments on retry
	SourceCommit    string // Latest known git commit hash
	CommitHash      string // Latest known OSTree commit hash
	ErrorMessage    string // Most recent failure reason; cleared on retry
	CancelRequested bool   // Durable cancellation flag for the in-flight attempt
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Workflow derives the workflow kind from the package's source fields.
func (p *Package) Workflow() Workflow {
	if p.GitURL == "" {
		return WorkflowArtifact
	}
	return WorkflowSource
}

// Ref returns the OSTree ref this package's builds are exported under.
func (p *Package) Ref() string {
	return "app/" + p.AppID + "/" + p.Arch + "/" + p.Branch
}

// Build is one attempt record. Attempt numbers per package are strictly
// increasing and never reused; once the status is terminal the record is
// immutable except for cascading deletion.
type Build struct {
	ID           string // UUID
	PackageID    string // Foreign key to Package
	Attempt      int    // Equal to the package's BuildCounter when the attempt was opened
	Version      string // Snapshot at attempt time, updated during the attempt
	SourceCommit string // Git commit hash that was built
	CommitHash   string // OSTree commit hash produced by this attempt
	Status       Status
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time // Nil while the attempt is in flight
	PublishedAt  *time.Time
	CreatedAt    time.Time
}

// LogEntry is one line of a build's append-only log stream.
type LogEntry struct {
	ID        int64 // Auto-increment; defines the append order
	BuildID   string
	Level     string // "info", "warning" or "error"
	Message   string
	CreatedAt time.Time
}

const (
	LogInfo    = "info"
	LogWarning = "warning"
	LogError   = "error"
)

// Artifact is an uploaded file belonging to a build attempt.
type Artifact struct {
	ID          string // UUID
	BuildID     string // Foreign key to Build (not Package)
	Filename    string
	Size        int64
	ContentType string
	Path        string // Storage location on disk
	Checksum    string
	UploadedAt  time.Time
}

// TaskKind identifies the operation a queued task performs.
type TaskKind string

const (
	TaskBuild   TaskKind = "build"
	TaskCommit  TaskKind = "commit"
	TaskPublish TaskKind = "publish"
)

// Task is one queued background operation. Tasks are leased to workers;
// a task whose lease expires before it is acked becomes visible again.
type Task struct {
	ID        int64
	Kind      TaskKind
	PackageID string
	BuildID   string // Set for commit/publish tasks
	CreatedAt time.Time
	VisibleAt time.Time
}
