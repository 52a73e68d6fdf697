package orchestrator

import (
	"errors"
	"fmt"

	"flatman-go/internal/model"
)

// ErrNotFound is returned when a package, build or repository does not exist.
var ErrNotFound = errors.New("not found")

// ErrWorkerLost marks an attempt the staleness sweep force-failed because
// its worker stopped reporting progress. Operators can tell these apart
// from true build failures by the error message prefix.
var ErrWorkerLost = errors.New("worker lost")

// ValidationError rejects bad input synchronously; nothing is enqueued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// InvalidTransitionError rejects a status transition that is not in the
// legal transition table, or lost a race with a concurrent transition.
type InvalidTransitionError struct {
	From model.Status
	To   model.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q", e.From, e.To)
}

// NotCancellableError is returned when cancel is requested on a package
// whose status is already terminal.
type NotCancellableError struct {
	Status model.Status
}

func (e *NotCancellableError) Error() string {
	return fmt.Sprintf("cannot cancel package in %q status", e.Status)
}

// ErrDuplicate marks a uniqueness constraint violation. The store wraps
// constraint errors with it so callers can match with errors.Is.
var ErrDuplicate = errors.New("already exists")
