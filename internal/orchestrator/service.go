package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"flatman-go/internal/model"
	"flatman-go/internal/notify"
)

// ServiceOptions carry the defaults applied to new packages.
type ServiceOptions struct {
	DefaultBranch string // Flatpak branch label when none is given
	DefaultArch   string // Target architecture when none is given
}

// Service is the control surface. Every user-facing operation goes
// through it: it validates input, drives the transition guard, enqueues
// background work and publishes status events.
type Service struct {
	store    Store
	queue    Queue
	notifier Notifier
	cancels  *CancelRegistry
	guard    Guard
	logger   Logger
	clock    Clock
	opts     ServiceOptions
}

func NewService(store Store, queue Queue, notifier Notifier, cancels *CancelRegistry, logger Logger, clock Clock, opts ServiceOptions) *Service {
	if clock == nil {
		clock = RealClock{}
	}
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = "stable"
	}
	if opts.DefaultArch == "" {
		opts.DefaultArch = "x86_64"
	}
	return &Service{
		store:    store,
		queue:    queue,
		notifier: notifier,
		cancels:  cancels,
		logger:   logger,
		clock:    clock,
		opts:     opts,
	}
}

// CreateRepository registers a new OSTree repository. Parents must
// already exist.
func (s *Service) CreateRepository(ctx context.Context, repo *model.Repository) error {
	if repo.Name == "" {
		return &ValidationError{Reason: "repository name is required"}
	}
	for _, parentID := range repo.ParentIDs {
		if _, err := s.store.GetRepository(ctx, parentID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return &ValidationError{Reason: fmt.Sprintf("parent repository %s does not exist", parentID)}
			}
			return err
		}
	}
	if err := s.store.CreateRepository(ctx, repo); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return &ValidationError{Reason: fmt.Sprintf("repository %q already exists", repo.Name)}
		}
		return err
	}
	s.logger.Info("repository created", "name", repo.Name, "id", repo.ID)
	return nil
}

// CreatePackageParams are the user-supplied fields of a new package.
type CreatePackageParams struct {
	RepositoryName string
	AppID          string
	Name           string
	GitURL         string
	GitBranch      string
	Branch         string
	Arch           string
	CreatedBy      string
}

// CreatePackage registers a package in pending status. Packages with a
// git URL get a build task enqueued right away; packages without one
// wait for an upload and an explicit MarkBuilt.
func (s *Service) CreatePackage(ctx context.Context, params CreatePackageParams) (*model.Package, error) {
	if params.AppID == "" {
		return nil, &ValidationError{Reason: "app ID is required"}
	}
	if params.RepositoryName == "" {
		return nil, &ValidationError{Reason: "repository is required"}
	}

	repo, err := s.store.GetRepositoryByName(ctx, params.RepositoryName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ValidationError{Reason: fmt.Sprintf("repository %q does not exist", params.RepositoryName)}
		}
		return nil, err
	}
	if !repo.IsActive {
		return nil, &ValidationError{Reason: fmt.Sprintf("repository %q is not active", repo.Name)}
	}
	// Builds land only in root repositories; promotion targets receive
	// content through pull-local from their parents.
	if repo.HasParents() {
		return nil, &ValidationError{Reason: fmt.Sprintf("repository %q is a promotion target, builds go to a root repository", repo.Name)}
	}

	pkg := &model.Package{
		RepositoryID: repo.ID,
		AppID:        params.AppID,
		Name:         params.Name,
		GitURL:       params.GitURL,
		GitBranch:    params.GitBranch,
		Branch:       params.Branch,
		Arch:         params.Arch,
		CreatedBy:    params.CreatedBy,
	}
	if pkg.Name == "" {
		pkg.Name = pkg.AppID
	}
	if pkg.Branch == "" {
		pkg.Branch = s.opts.DefaultBranch
	}
	if pkg.Arch == "" {
		pkg.Arch = s.opts.DefaultArch
	}

	if err := s.store.CreatePackage(ctx, pkg); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, &ValidationError{Reason: fmt.Sprintf("package %s/%s/%s already exists in %q",
				pkg.AppID, pkg.Arch, pkg.Branch, repo.Name)}
		}
		return nil, err
	}
	s.logger.Info("package created",
		"id", pkg.ID, "app_id", pkg.AppID, "repository", repo.Name, "workflow", pkg.Workflow())

	if pkg.Workflow() == model.WorkflowSource {
		if err := s.queue.Enqueue(ctx, &model.Task{Kind: model.TaskBuild, PackageID: pkg.ID}); err != nil {
			return nil, fmt.Errorf("enqueueing build: %w", err)
		}
	}
	return pkg, nil
}

// transition runs one guarded edge and publishes the resulting status.
func (s *Service) transition(ctx context.Context, packageID string, from, to model.Status, opts TransitionOptions) (*model.Package, *model.Build, error) {
	if err := s.guard.Check(from, to); err != nil {
		return nil, nil, err
	}
	pkg, build, err := s.store.Transition(ctx, packageID, from, to, opts)
	if err != nil {
		return nil, nil, err
	}
	s.publishStatus(pkg, build)
	return pkg, build, nil
}

func (s *Service) publishStatus(pkg *model.Package, build *model.Build) {
	event := notify.Event{
		Kind:      notify.KindStatus,
		PackageID: pkg.ID,
		Status:    string(pkg.Status),
		Timestamp: s.clock.Now().UTC(),
	}
	if build != nil {
		event.BuildID = build.ID
	}
	s.notifier.Publish(notify.TopicPackage(pkg.ID), event)
	s.notifier.Publish(notify.TopicAll, event)
}

// MarkBuilt records that a package's content arrived by upload. The
// attempt record opens and closes in two guarded steps so upload builds
// get the same history rows as source builds.
func (s *Service) MarkBuilt(ctx context.Context, packageID string) (*model.Package, error) {
	if _, _, err := s.transition(ctx, packageID, model.StatusPending, model.StatusBuilding, TransitionOptions{}); err != nil {
		return nil, err
	}
	pkg, _, err := s.transition(ctx, packageID, model.StatusBuilding, model.StatusBuilt, TransitionOptions{})
	if err != nil {
		return nil, err
	}
	s.logger.Info("package marked built", "id", packageID)
	return pkg, nil
}

// Commit requests the commit step for a built package. The precondition
// is checked synchronously; the work itself runs in the background.
func (s *Service) Commit(ctx context.Context, packageID string) error {
	return s.enqueueStep(ctx, packageID, model.StatusBuilt, model.StatusCommitting, model.TaskCommit)
}

// Publish requests the publish step for a committed package.
func (s *Service) Publish(ctx context.Context, packageID string) error {
	return s.enqueueStep(ctx, packageID, model.StatusCommitted, model.StatusPublishing, model.TaskPublish)
}

func (s *Service) enqueueStep(ctx context.Context, packageID string, wantStatus, nextStatus model.Status, kind model.TaskKind) error {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return err
	}
	if pkg.Status != wantStatus {
		return &InvalidTransitionError{From: pkg.Status, To: nextStatus}
	}

	task := &model.Task{Kind: kind, PackageID: pkg.ID}
	if build, err := s.store.LatestBuild(ctx, pkg.ID); err == nil {
		task.BuildID = build.ID
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueueing %s: %w", kind, err)
	}
	s.logger.Info("task enqueued", "kind", kind, "package_id", pkg.ID)
	return nil
}

// Cancel stops a package's current attempt. A pending package is
// cancelled directly; an active one gets the durable flag set and its
// in-process worker signalled, and reaches cancelled once the worker
// observes the request. Terminal packages cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, packageID string) error {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return err
	}

	switch {
	case pkg.Status == model.StatusPending:
		_, _, err := s.transition(ctx, packageID, model.StatusPending, model.StatusCancelled, TransitionOptions{})
		return err
	case pkg.Status.Active():
		if err := s.store.RequestCancel(ctx, packageID); err != nil {
			return err
		}
		if s.cancels.Signal(packageID) {
			s.logger.Info("cancel signalled to running attempt", "package_id", packageID)
		} else {
			s.logger.Info("cancel recorded, no local attempt running", "package_id", packageID)
		}
		return nil
	default:
		return &NotCancellableError{Status: pkg.Status}
	}
}

// Retry re-runs a failed or cancelled package. The attempt counter
// increments and the old attempt stays in the history untouched.
func (s *Service) Retry(ctx context.Context, packageID string) (*model.Package, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}

	pkg, _, err = s.transition(ctx, packageID, pkg.Status, model.StatusPending, TransitionOptions{})
	if err != nil {
		return nil, err
	}
	s.logger.Info("package retried", "id", packageID, "attempt", pkg.BuildCounter)

	if pkg.Workflow() == model.WorkflowSource {
		if err := s.queue.Enqueue(ctx, &model.Task{Kind: model.TaskBuild, PackageID: pkg.ID}); err != nil {
			return nil, fmt.Errorf("enqueueing build: %w", err)
		}
	}
	return pkg, nil
}

// PackageStatus pairs a package with its most recent attempt, if any.
type PackageStatus struct {
	Package *model.Package
	Latest  *model.Build
}

// GetStatus returns the package and its latest build attempt.
func (s *Service) GetStatus(ctx context.Context, packageID string) (*PackageStatus, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	status := &PackageStatus{Package: pkg}
	build, err := s.store.LatestBuild(ctx, packageID)
	if err == nil {
		status.Latest = build
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return status, nil
}

// ListHistory returns every attempt of a package, most recent first.
func (s *Service) ListHistory(ctx context.Context, packageID string) ([]*model.Build, error) {
	if _, err := s.store.GetPackage(ctx, packageID); err != nil {
		return nil, err
	}
	return s.store.ListBuilds(ctx, packageID)
}

// GetLogs returns a build's log entries in append order.
func (s *Service) GetLogs(ctx context.Context, buildID string) ([]*model.LogEntry, error) {
	if _, err := s.store.GetBuild(ctx, buildID); err != nil {
		return nil, err
	}
	return s.store.ListLogs(ctx, buildID)
}

// Subscribe opens a live event stream. packageID may be empty to follow
// every package.
func (s *Service) Subscribe(packageID string) *notify.Subscription {
	hub, ok := s.notifier.(*notify.Hub)
	if !ok {
		return nil
	}
	topic := notify.TopicAll
	if packageID != "" {
		topic = notify.TopicPackage(packageID)
	}
	return hub.Subscribe(topic, 64)
}

// Delete removes a package and everything attached to it. A pending or
// in-flight package is cancelled instead of deleted; the caller can
// delete it once it settles. Reports whether the package was actually
// removed.
func (s *Service) Delete(ctx context.Context, packageID string) (bool, error) {
	pkg, err := s.store.GetPackage(ctx, packageID)
	if err != nil {
		return false, err
	}
	if pkg.Status == model.StatusPending || pkg.Status.Active() {
		s.logger.Info("package is not settled, cancelling instead of deleting", "id", packageID)
		if err := s.Cancel(ctx, packageID); err != nil {
			return false, err
		}
		return false, nil
	}
	if err := s.store.DeletePackage(ctx, packageID); err != nil {
		return false, err
	}
	s.logger.Info("package deleted", "id", packageID, "app_id", pkg.AppID)
	return true, nil
}

// ListPackages returns all packages, newest first.
func (s *Service) ListPackages(ctx context.Context) ([]*model.Package, error) {
	return s.store.ListPackages(ctx)
}

// ListRepositories returns all repositories sorted by name.
func (s *Service) ListRepositories(ctx context.Context) ([]*model.Repository, error) {
	return s.store.ListRepositories(ctx)
}
