// Package queue provides the task queue that hands background operations
// from the control surface to the worker pool. Both implementations use a
// visibility timeout: a dequeued task stays in the queue but is hidden for
// the lease duration, and reappears if the worker never acks it.
package queue

import (
	"context"
	"sync"
	"time"

	"flatman-go/internal/model"
	"flatman-go/internal/orchestrator"
)

// MemoryQueue is an in-process queue for single-binary deployments and
// tests.
type MemoryQueue struct {
	mu     sync.Mutex
	tasks  []*model.Task
	nextID int64
	lease  time.Duration
	clock  orchestrator.Clock
	wake   chan struct{}
}

// NewMemoryQueue creates an in-memory queue. clock may be nil, in which
// case the real clock is used.
func NewMemoryQueue(lease time.Duration, clock orchestrator.Clock) *MemoryQueue {
	if clock == nil {
		clock = orchestrator.RealClock{}
	}
	return &MemoryQueue{
		lease: lease,
		clock: clock,
		wake:  make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *model.Task) error {
	q.mu.Lock()
	q.nextID++
	task.ID = q.nextID
	now := q.clock.Now().UTC()
	task.CreatedAt = now
	task.VisibleAt = now
	copied := *task
	q.tasks = append(q.tasks, &copied)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*model.Task, error) {
	for {
		task, nextVisible := q.claim()
		if task != nil {
			return task, nil
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if !nextVisible.IsZero() {
			timer = time.NewTimer(time.Until(nextVisible))
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-q.wake:
		case <-timerC:
		}
		// Stop per iteration; a deferred stop would pile up a timer for
		// every empty pass until Dequeue returns.
		if timer != nil {
			timer.Stop()
		}
	}
}

// claim hides and returns the oldest visible task. When nothing is
// visible it reports when the next hidden task reappears.
func (q *MemoryQueue) claim() (*model.Task, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now().UTC()
	var nextVisible time.Time
	for _, t := range q.tasks {
		if t.VisibleAt.After(now) {
			if nextVisible.IsZero() || t.VisibleAt.Before(nextVisible) {
				nextVisible = t.VisibleAt
			}
			continue
		}
		t.VisibleAt = now.Add(q.lease)
		copied := *t
		return &copied, time.Time{}
	}
	return nil, nextVisible
}

func (q *MemoryQueue) Ack(ctx context.Context, taskID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.tasks {
		if t.ID == taskID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

var _ orchestrator.Queue = (*MemoryQueue)(nil)
