package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"flatman-go/internal/model"
	"flatman-go/internal/notify"
	"flatman-go/internal/tool"
)

// cancelPollInterval is how often a running attempt re-checks the
// durable cancellation flag. Covers cancel requests made through another
// process; in-process requests land immediately via the registry.
const cancelPollInterval = 2 * time.Second

// ExecutorConfig are the knobs of the worker pool.
type ExecutorConfig struct {
	Workers       int
	CloneTimeout  time.Duration
	BuildTimeout  time.Duration
	ToolTimeout   time.Duration
	WorkDir       string // Parent directory for per-attempt workspaces
	ReposBasePath string // Directory holding the published repositories
	StagingPath   string // The shared staging repository builds land in
}

// Executor is the worker pool that performs build, commit and publish
// tasks. Each worker loops dequeue, execute, ack; a task whose worker
// dies is redelivered by the queue lease and dropped by the status
// precondition check, so no operation runs twice.
type Executor struct {
	store    Store
	queue    Queue
	buildLog *BuildLogger
	cancels  *CancelRegistry
	git      *tool.Git
	ostree   *tool.OSTree
	builder  *tool.Builder
	notifier Notifier
	guard    Guard
	logger   Logger
	clock    Clock
	cfg      ExecutorConfig
}

func NewExecutor(store Store, queue Queue, buildLog *BuildLogger, cancels *CancelRegistry, runner tool.Runner, notifier Notifier, logger Logger, clock Clock, cfg ExecutorConfig) *Executor {
	if clock == nil {
		clock = RealClock{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &Executor{
		store:    store,
		queue:    queue,
		buildLog: buildLog,
		cancels:  cancels,
		git:      tool.NewGit(runner),
		ostree:   tool.NewOSTree(runner),
		builder:  tool.NewBuilder(runner),
		notifier: notifier,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
	}
}

// Run starts the worker pool and blocks until ctx is done and every
// in-flight task has finished.
func (e *Executor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			e.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (e *Executor) workerLoop(ctx context.Context, worker int) {
	for {
		task, err := e.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("dequeue failed", "worker", worker, "error", err)
			continue
		}

		e.logger.Debug("task dequeued",
			"worker", worker, "task_id", task.ID, "kind", task.Kind, "package_id", task.PackageID)
		e.execute(ctx, task)

		if err := e.queue.Ack(ctx, task.ID); err != nil {
			e.logger.Error("ack failed", "task_id", task.ID, "error", err)
		}
	}
}

func (e *Executor) execute(ctx context.Context, task *model.Task) {
	var err error
	switch task.Kind {
	case model.TaskBuild:
		err = e.runBuild(ctx, task)
	case model.TaskCommit:
		err = e.runCommit(ctx, task)
	case model.TaskPublish:
		err = e.runPublish(ctx, task)
	default:
		e.logger.Error("unknown task kind", "task_id", task.ID, "kind", task.Kind)
		return
	}
	if err != nil {
		e.logger.Error("task failed",
			"task_id", task.ID, "kind", task.Kind, "package_id", task.PackageID, "error", err)
	}
}

// begin transitions the package into an active status and sets up the
// cancellable attempt context. The returned cleanup must be deferred.
func (e *Executor) begin(ctx context.Context, packageID string, from, to model.Status) (*model.Package, *model.Build, context.Context, func(), error) {
	pkg, build, err := e.transition(ctx, packageID, from, to, TransitionOptions{})
	if err != nil {
		return nil, nil, nil, nil, err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	unregister := e.cancels.Register(packageID, cancel)

	// Watch the durable flag so cancels from other processes reach this
	// attempt too.
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(cancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-attemptCtx.Done():
				return
			case <-ticker.C:
				requested, err := e.store.CancelRequested(context.Background(), packageID)
				if err == nil && requested {
					cancel()
					return
				}
			}
		}
	}()

	cleanup := func() {
		unregister()
		cancel()
		<-watchDone
	}
	return pkg, build, attemptCtx, cleanup, nil
}

// transition runs one guarded edge and publishes the resulting status.
func (e *Executor) transition(ctx context.Context, packageID string, from, to model.Status, opts TransitionOptions) (*model.Package, *model.Build, error) {
	if err := e.guard.Check(from, to); err != nil {
		return nil, nil, err
	}
	pkg, build, err := e.store.Transition(ctx, packageID, from, to, opts)
	if err != nil {
		return nil, nil, err
	}
	e.publishStatus(pkg, build)
	return pkg, build, nil
}

func (e *Executor) publishStatus(pkg *model.Package, build *model.Build) {
	event := notify.Event{
		Kind:      notify.KindStatus,
		PackageID: pkg.ID,
		Status:    string(pkg.Status),
		Timestamp: e.clock.Now().UTC(),
	}
	if build != nil {
		event.BuildID = build.ID
	}
	e.notifier.Publish(notify.TopicPackage(pkg.ID), event)
	e.notifier.Publish(notify.TopicAll, event)
}

// settle resolves a step failure into the terminal status. Cancellation
// wins over failure: a subprocess killed by a cancel request exits
// non-zero, and that exit must not masquerade as a build failure.
func (e *Executor) settle(ctx context.Context, pkg *model.Package, build *model.Build, active model.Status, attemptCtx context.Context, stepErr error) {
	cancelled := attemptCtx.Err() != nil && ctx.Err() == nil
	if !cancelled {
		if requested, err := e.store.CancelRequested(ctx, pkg.ID); err == nil && requested {
			cancelled = true
		}
	}

	if cancelled {
		e.buildLog.Warning(ctx, pkg.ID, build.ID, "cancelled by request")
		if _, _, err := e.transition(ctx, pkg.ID, active, model.StatusCancelled, TransitionOptions{}); err != nil {
			e.logger.Error("failed to record cancellation", "package_id", pkg.ID, "error", err)
		}
		return
	}
	if ctx.Err() != nil {
		// Daemon shutdown: leave the package active. The staleness sweep
		// or the redelivered task picks it up later.
		e.logger.Warn("attempt interrupted by shutdown", "package_id", pkg.ID)
		return
	}

	message := stepErr.Error()
	if errors.Is(stepErr, tool.ErrTimeout) {
		message = "timed out: " + message
	}
	e.buildLog.Error(ctx, pkg.ID, build.ID, message)
	if _, _, err := e.transition(ctx, pkg.ID, active, model.StatusFailed, TransitionOptions{ErrorMessage: message}); err != nil {
		e.logger.Error("failed to record failure", "package_id", pkg.ID, "error", err)
	}
}

func (e *Executor) runBuild(ctx context.Context, task *model.Task) error {
	pkg, err := e.store.GetPackage(ctx, task.PackageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Deleted while queued.
			return nil
		}
		return err
	}
	if pkg.Status != model.StatusPending {
		// Stale or duplicate task; the sweep re-enqueues liberally and
		// redelivered tasks land here after the attempt already ran.
		e.logger.Debug("skipping build task, package not pending",
			"package_id", pkg.ID, "status", pkg.Status)
		return nil
	}

	pkg, build, attemptCtx, cleanup, err := e.begin(ctx, pkg.ID, model.StatusPending, model.StatusBuilding)
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			// Lost the race to another worker.
			return nil
		}
		return err
	}
	defer cleanup()

	if stepErr := e.buildStep(attemptCtx, pkg, build); stepErr != nil {
		e.settle(ctx, pkg, build, model.StatusBuilding, attemptCtx, stepErr)
		return nil
	}

	if _, _, err := e.transition(ctx, pkg.ID, model.StatusBuilding, model.StatusBuilt, TransitionOptions{}); err != nil {
		return fmt.Errorf("recording built status: %w", err)
	}
	e.buildLog.Info(ctx, pkg.ID, build.ID, "build finished")
	return nil
}

// buildStep clones the source, discovers the manifest and runs
// flatpak-builder into the staging repository.
func (e *Executor) buildStep(ctx context.Context, pkg *model.Package, build *model.Build) error {
	workspace, err := os.MkdirTemp(e.cfg.WorkDir, "flatman-build-")
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	defer os.RemoveAll(workspace)

	checkout := filepath.Join(workspace, "source")
	e.buildLog.Info(ctx, pkg.ID, build.ID,
		fmt.Sprintf("cloning %s (branch %s)", pkg.GitURL, pkg.GitBranch))

	cloneCtx, cancelClone := context.WithTimeout(ctx, e.cfg.CloneTimeout)
	result, err := e.git.Clone(cloneCtx, pkg.GitURL, pkg.GitBranch, checkout)
	cancelClone()
	e.appendToolOutput(ctx, pkg.ID, build.ID, result)
	if err != nil {
		return err
	}

	toolCtx, cancelTool := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	commit, err := e.git.RevParse(toolCtx, checkout)
	cancelTool()
	if err != nil {
		return err
	}
	e.buildLog.Info(ctx, pkg.ID, build.ID, "source at commit "+commit)
	if err := e.store.RecordBuildResults(ctx, build.ID, BuildResults{SourceCommit: commit}); err != nil {
		e.logger.Error("failed to record source commit", "build_id", build.ID, "error", err)
	}

	manifestPath, err := tool.FindManifest(checkout, pkg.AppID)
	if err != nil {
		return err
	}
	e.buildLog.Info(ctx, pkg.ID, build.ID, "using manifest "+filepath.Base(manifestPath))

	if m, err := tool.ReadManifest(manifestPath); err != nil {
		e.buildLog.Warning(ctx, pkg.ID, build.ID, "could not read manifest: "+err.Error())
	} else {
		if m.Runtime != "" {
			e.buildLog.Info(ctx, pkg.ID, build.ID,
				fmt.Sprintf("runtime %s//%s, sdk %s", m.Runtime, m.RuntimeVersion, m.Sdk))
		}
		if m.Version != "" {
			if err := e.store.RecordBuildResults(ctx, build.ID, BuildResults{Version: m.Version}); err != nil {
				e.logger.Error("failed to record version", "build_id", build.ID, "error", err)
			}
		}
	}

	initCtx, cancelInit := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	err = e.ostree.EnsureInit(initCtx, e.cfg.StagingPath)
	cancelInit()
	if err != nil {
		return err
	}

	e.buildLog.Info(ctx, pkg.ID, build.ID, "running flatpak-builder")
	buildCtx, cancelBuild := context.WithTimeout(ctx, e.cfg.BuildTimeout)
	result, err = e.builder.Build(buildCtx, checkout, manifestPath,
		filepath.Join(workspace, "builddir"), e.cfg.StagingPath, pkg.Branch)
	cancelBuild()
	e.appendToolOutput(ctx, pkg.ID, build.ID, result)
	return err
}

func (e *Executor) runCommit(ctx context.Context, task *model.Task) error {
	pkg, err := e.store.GetPackage(ctx, task.PackageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if pkg.Status != model.StatusBuilt {
		e.logger.Debug("skipping commit task, package not built",
			"package_id", pkg.ID, "status", pkg.Status)
		return nil
	}

	pkg, build, attemptCtx, cleanup, err := e.begin(ctx, pkg.ID, model.StatusBuilt, model.StatusCommitting)
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil
		}
		return err
	}
	defer cleanup()

	if stepErr := e.commitStep(attemptCtx, pkg, build); stepErr != nil {
		e.settle(ctx, pkg, build, model.StatusCommitting, attemptCtx, stepErr)
		return nil
	}

	if _, _, err := e.transition(ctx, pkg.ID, model.StatusCommitting, model.StatusCommitted, TransitionOptions{}); err != nil {
		return fmt.Errorf("recording committed status: %w", err)
	}
	e.buildLog.Info(ctx, pkg.ID, build.ID, "commit verified")
	return nil
}

// commitStep verifies the build landed in the staging repository and
// records the resulting OSTree commit hash.
func (e *Executor) commitStep(ctx context.Context, pkg *model.Package, build *model.Build) error {
	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	if err := e.ostree.EnsureInit(toolCtx, e.cfg.StagingPath); err != nil {
		return err
	}
	ref, err := e.findRef(toolCtx, pkg, build)
	if err != nil {
		return err
	}

	checksum, err := e.ostree.RevParse(toolCtx, e.cfg.StagingPath, ref)
	if err != nil {
		return err
	}
	e.buildLog.Info(ctx, pkg.ID, build.ID, fmt.Sprintf("ref %s at commit %s", ref, checksum))
	if err := e.store.RecordBuildResults(ctx, build.ID, BuildResults{CommitHash: checksum}); err != nil {
		e.logger.Error("failed to record commit hash", "build_id", build.ID, "error", err)
	}
	return nil
}

// findRef locates the package's ref in the staging repository. The exact
// ref is expected; a ref merely containing the app ID is accepted with a
// warning, covering manifests that export under a different branch.
func (e *Executor) findRef(ctx context.Context, pkg *model.Package, build *model.Build) (string, error) {
	refs, err := e.ostree.Refs(ctx, e.cfg.StagingPath)
	if err != nil {
		return "", err
	}

	want := pkg.Ref()
	for _, ref := range refs {
		if ref == want {
			return ref, nil
		}
	}
	for _, ref := range refs {
		if strings.Contains(ref, pkg.AppID) {
			e.buildLog.Warning(ctx, pkg.ID, build.ID,
				fmt.Sprintf("expected ref %s not found, using %s", want, ref))
			return ref, nil
		}
	}
	return "", fmt.Errorf("no ref for %s in staging repository", pkg.AppID)
}

func (e *Executor) runPublish(ctx context.Context, task *model.Task) error {
	pkg, err := e.store.GetPackage(ctx, task.PackageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if pkg.Status != model.StatusCommitted {
		e.logger.Debug("skipping publish task, package not committed",
			"package_id", pkg.ID, "status", pkg.Status)
		return nil
	}

	pkg, build, attemptCtx, cleanup, err := e.begin(ctx, pkg.ID, model.StatusCommitted, model.StatusPublishing)
	if err != nil {
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil
		}
		return err
	}
	defer cleanup()

	if stepErr := e.publishStep(attemptCtx, pkg, build); stepErr != nil {
		e.settle(ctx, pkg, build, model.StatusPublishing, attemptCtx, stepErr)
		return nil
	}

	if _, _, err := e.transition(ctx, pkg.ID, model.StatusPublishing, model.StatusPublished, TransitionOptions{}); err != nil {
		return fmt.Errorf("recording published status: %w", err)
	}
	e.buildLog.Info(ctx, pkg.ID, build.ID, "published")
	return nil
}

// publishStep pulls the build from staging into the target repository
// and refreshes its summary. A summary failure is a warning; the content
// is already live and the next publish regenerates it.
func (e *Executor) publishStep(ctx context.Context, pkg *model.Package, build *model.Build) error {
	repo, err := e.store.GetRepository(ctx, pkg.RepositoryID)
	if err != nil {
		return err
	}
	target := filepath.Join(e.cfg.ReposBasePath, repo.Name)

	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	if err := e.ostree.EnsureInit(toolCtx, target); err != nil {
		return err
	}
	ref, err := e.findRef(toolCtx, pkg, build)
	if err != nil {
		return err
	}

	e.buildLog.Info(ctx, pkg.ID, build.ID,
		fmt.Sprintf("pulling %s into repository %s", ref, repo.Name))
	if err := e.ostree.PullLocal(toolCtx, target, e.cfg.StagingPath, ref); err != nil {
		return err
	}

	if err := e.ostree.SummaryUpdate(toolCtx, target, repo.GPGKeyID); err != nil {
		e.buildLog.Warning(ctx, pkg.ID, build.ID, "summary update failed: "+err.Error())
	}
	return nil
}

// appendToolOutput copies a subprocess's captured output into the build
// log, one entry per line.
func (e *Executor) appendToolOutput(ctx context.Context, packageID, buildID string, result *tool.Result) {
	if result == nil || len(result.Output) == 0 {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(result.Output), "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			e.buildLog.Info(ctx, packageID, buildID, line)
		}
	}
}
