package orchestrator

import (
	"context"
	"fmt"
	"time"

	"flatman-go/internal/model"
	"flatman-go/internal/notify"
)

// Sweep is the periodic safety net. It force-fails attempts whose worker
// stopped reporting progress and re-enqueues pending source packages that
// lost their build task, so a crash anywhere in the system heals without
// operator action.
type Sweep struct {
	store      Store
	queue      Queue
	notifier   Notifier
	guard      Guard
	logger     Logger
	clock      Clock
	interval   time.Duration
	staleAfter time.Duration
}

func NewSweep(store Store, queue Queue, notifier Notifier, logger Logger, clock Clock, interval, staleAfter time.Duration) *Sweep {
	if clock == nil {
		clock = RealClock{}
	}
	return &Sweep{
		store:      store,
		queue:      queue,
		notifier:   notifier,
		logger:     logger,
		clock:      clock,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Run sweeps on the configured interval until ctx is done.
func (s *Sweep) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweep) RunOnce(ctx context.Context) {
	s.failStale(ctx)
	s.requeuePending(ctx)
}

func (s *Sweep) failStale(ctx context.Context) {
	cutoff := s.clock.Now().UTC().Add(-s.staleAfter)
	stale, err := s.store.StalePackages(ctx, cutoff)
	if err != nil {
		s.logger.Error("stale package query failed", "error", err)
		return
	}

	for _, pkg := range stale {
		message := fmt.Sprintf("%s: no progress since %s", ErrWorkerLost, pkg.UpdatedAt.Format(time.RFC3339))
		got, build, err := s.store.Transition(ctx, pkg.ID, pkg.Status, model.StatusFailed,
			TransitionOptions{ErrorMessage: message})
		if err != nil {
			// The worker came back between the query and the swap; leave
			// it alone.
			s.logger.Debug("stale package recovered on its own", "package_id", pkg.ID, "error", err)
			continue
		}
		s.logger.Warn("force-failed stale package",
			"package_id", pkg.ID, "app_id", pkg.AppID, "was", pkg.Status)

		event := notify.Event{
			Kind:      notify.KindStatus,
			PackageID: got.ID,
			Status:    string(got.Status),
			Timestamp: s.clock.Now().UTC(),
		}
		if build != nil {
			event.BuildID = build.ID
		}
		s.notifier.Publish(notify.TopicPackage(got.ID), event)
		s.notifier.Publish(notify.TopicAll, event)
	}
}

func (s *Sweep) requeuePending(ctx context.Context) {
	pending, err := s.store.PendingSourcePackages(ctx)
	if err != nil {
		s.logger.Error("pending package query failed", "error", err)
		return
	}

	for _, pkg := range pending {
		// Duplicate tasks are harmless: the executor drops any build
		// task whose package is no longer pending.
		if err := s.queue.Enqueue(ctx, &model.Task{Kind: model.TaskBuild, PackageID: pkg.ID}); err != nil {
			s.logger.Error("re-enqueue failed", "package_id", pkg.ID, "error", err)
			continue
		}
		s.logger.Debug("re-enqueued pending package", "package_id", pkg.ID, "app_id", pkg.AppID)
	}
}
