package orchestrator

import (
	"context"
	"time"

	"flatman-go/internal/model"
	"flatman-go/internal/notify"
)

// TransitionOptions carries the optional side-effect inputs of a status
// transition.
type TransitionOptions struct {
	// ErrorMessage is recorded on both the package and the active build
	// when transitioning to failed.
	ErrorMessage string
}

// Store provides durable storage for repositories, packages, builds and
// logs. Implementations must apply Transition atomically: the package
// status is compare-and-swapped and the active build row is mirrored in
// the same transaction, so two racing transitions cannot both pass the
// same precondition.
type Store interface {
	// Repository operations

	CreateRepository(ctx context.Context, repo *model.Repository) error
	GetRepository(ctx context.Context, id string) (*model.Repository, error)
	GetRepositoryByName(ctx context.Context, name string) (*model.Repository, error)
	ListRepositories(ctx context.Context) ([]*model.Repository, error)

	// Package operations

	// CreatePackage inserts a new package. A uniqueness violation on
	// (repository, app_id, arch, branch) is reported as ErrDuplicate.
	CreatePackage(ctx context.Context, pkg *model.Package) error
	GetPackage(ctx context.Context, id string) (*model.Package, error)
	ListPackages(ctx context.Context) ([]*model.Package, error)
	// DeletePackage removes the package and cascades to its builds,
	// logs and artifacts in one transaction.
	DeletePackage(ctx context.Context, id string) error

	// Transition compare-and-swaps the package status from -> to and
	// applies the side effects of the edge: entering building creates
	// the attempt record; entering a terminal state closes the active
	// build; retrying to pending increments the attempt counter and
	// clears the error. Returns InvalidTransitionError when the package
	// is no longer in the from status.
	Transition(ctx context.Context, packageID string, from, to model.Status, opts TransitionOptions) (*model.Package, *model.Build, error)

	// RequestCancel sets the durable cancellation flag for the package's
	// in-flight attempt.
	RequestCancel(ctx context.Context, packageID string) error
	// CancelRequested reads the cancellation flag.
	CancelRequested(ctx context.Context, packageID string) (bool, error)

	// Build operations

	GetBuild(ctx context.Context, id string) (*model.Build, error)
	// LatestBuild returns the most recent attempt, or ErrNotFound when
	// the package has no builds yet.
	LatestBuild(ctx context.Context, packageID string) (*model.Build, error)
	// ListBuilds returns all attempts, most recent first.
	ListBuilds(ctx context.Context, packageID string) ([]*model.Build, error)
	// RecordBuildResults updates the snapshot fields captured during an
	// attempt on both the build and its package. Empty fields are left
	// untouched.
	RecordBuildResults(ctx context.Context, buildID string, results BuildResults) error

	// Log operations

	AppendLog(ctx context.Context, entry *model.LogEntry) error
	// ListLogs returns a build's log entries in append order.
	ListLogs(ctx context.Context, buildID string) ([]*model.LogEntry, error)

	// Artifact operations

	CreateArtifact(ctx context.Context, artifact *model.Artifact) error
	ListArtifacts(ctx context.Context, buildID string) ([]*model.Artifact, error)

	// Sweep support

	// StalePackages returns packages in an active status whose last
	// update is older than cutoff.
	StalePackages(ctx context.Context, cutoff time.Time) ([]*model.Package, error)
	// PendingSourcePackages returns pending packages with a git URL,
	// candidates for (re-)enqueueing a build.
	PendingSourcePackages(ctx context.Context) ([]*model.Package, error)
}

// BuildResults are the fields an attempt discovers while running.
type BuildResults struct {
	Version      string
	SourceCommit string
	CommitHash   string
}

// Queue hands operations from the control surface to the worker pool.
// Dequeued tasks are leased: a task not acked before its lease expires
// becomes visible again so a crashed worker cannot strand it.
type Queue interface {
	Enqueue(ctx context.Context, task *model.Task) error
	// Dequeue blocks until a task is available or ctx is done.
	Dequeue(ctx context.Context) (*model.Task, error)
	Ack(ctx context.Context, taskID int64) error
}

// Notifier publishes state and log events to live subscribers.
// Publishing is best-effort and must never block the caller.
type Notifier interface {
	Publish(topic string, event notify.Event)
}
