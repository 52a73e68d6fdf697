package orchestrator

import "flatman-go/internal/model"

// transitions is the legal transition table. Every status write in the
// system flows through Guard + Store.Transition; anything not listed here
// is rejected.
var transitions = map[model.Status][]model.Status{
	model.StatusPending:    {model.StatusBuilding, model.StatusCancelled},
	model.StatusBuilding:   {model.StatusBuilt, model.StatusFailed, model.StatusCancelled},
	model.StatusBuilt:      {model.StatusCommitting},
	model.StatusCommitting: {model.StatusCommitted, model.StatusFailed, model.StatusCancelled},
	model.StatusCommitted:  {model.StatusPublishing},
	model.StatusPublishing: {model.StatusPublished, model.StatusFailed, model.StatusCancelled},
	model.StatusPublished:  {},
	model.StatusFailed:     {model.StatusPending},
	model.StatusCancelled:  {model.StatusPending},
}

// Guard validates status transitions against the legal transition table.
// It is stateless; atomicity comes from the store's compare-and-swap on
// the current status.
type Guard struct{}

// CanTransition reports whether from -> to is a legal transition.
func (Guard) CanTransition(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check returns an InvalidTransitionError if from -> to is not legal.
func (g Guard) Check(from, to model.Status) error {
	if !g.CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
