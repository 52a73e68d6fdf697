package orchestrator

import (
	"context"
	"sync"
)

// CancelRegistry tracks the cancel functions of in-flight attempts so a
// cancel request reaches the worker immediately. The durable flag on the
// package row covers the cases the registry cannot: requests arriving
// between dequeue and registration, and workers in another process.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register associates a package's running attempt with its cancel
// function. The returned func removes the entry; call it when the
// attempt ends.
func (r *CancelRegistry) Register(packageID string, cancel context.CancelFunc) func() {
	r.mu.Lock()
	r.cancels[packageID] = cancel
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cancels, packageID)
		r.mu.Unlock()
	}
}

// Signal cancels the running attempt for the package, if this process
// has one. Reports whether an attempt was found.
func (r *CancelRegistry) Signal(packageID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[packageID]
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}
