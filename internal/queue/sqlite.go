package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"flatman-go/internal/model"
	"flatman-go/internal/orchestrator"
)

// pollInterval bounds how long a blocked Dequeue waits before re-checking
// the tasks table.
const pollInterval = 500 * time.Millisecond

// SQLiteQueue stores tasks in the same database as the rest of the state,
// so a queued task survives a daemon restart.
type SQLiteQueue struct {
	db    *sql.DB
	lease time.Duration
	clock orchestrator.Clock
}

// NewSQLiteQueue creates a queue on top of an existing connection. The
// tasks table is part of the store's schema. clock may be nil.
func NewSQLiteQueue(db *sql.DB, lease time.Duration, clock orchestrator.Clock) *SQLiteQueue {
	if clock == nil {
		clock = orchestrator.RealClock{}
	}
	return &SQLiteQueue{db: db, lease: lease, clock: clock}
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, task *model.Task) error {
	now := q.clock.Now().UTC()
	task.CreatedAt = now
	task.VisibleAt = now

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO tasks (kind, package_id, build_id, created_at, visible_at)
		VALUES (?, ?, ?, ?, ?)`,
		task.Kind, task.PackageID, task.BuildID, task.CreatedAt, task.VisibleAt)
	if err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		task.ID = id
	}
	return nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*model.Task, error) {
	for {
		task, err := q.claim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// claim hides and returns the oldest visible task, or nil when none is
// visible. The visible_at compare-and-swap makes the claim safe against
// concurrent workers.
func (q *SQLiteQueue) claim(ctx context.Context) (*model.Task, error) {
	now := q.clock.Now().UTC()

	var task model.Task
	err := q.db.QueryRowContext(ctx, `
		SELECT id, kind, package_id, build_id, created_at, visible_at
		FROM tasks WHERE visible_at <= ? ORDER BY id LIMIT 1`, now).Scan(
		&task.ID, &task.Kind, &task.PackageID, &task.BuildID, &task.CreatedAt, &task.VisibleAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting task: %w", err)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET visible_at = ? WHERE id = ? AND visible_at = ?`,
		now.Add(q.lease), task.ID, task.VisibleAt)
	if err != nil {
		return nil, fmt.Errorf("claiming task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Another worker claimed it between the select and the update.
		return nil, nil
	}

	task.VisibleAt = now.Add(q.lease)
	return &task, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, taskID int64) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID); err != nil {
		return fmt.Errorf("acking task: %w", err)
	}
	return nil
}

var _ orchestrator.Queue = (*SQLiteQueue)(nil)
