package orchestrator_test

import (
	"errors"
	"testing"

	"flatman-go/internal/model"
	"flatman-go/internal/orchestrator"
)

func TestGuard_CanTransition(t *testing.T) {
	var guard orchestrator.Guard

	legal := [][2]model.Status{
		{model.StatusPending, model.StatusBuilding},
		{model.StatusPending, model.StatusCancelled},
		{model.StatusBuilding, model.StatusBuilt},
		{model.StatusBuilding, model.StatusFailed},
		{model.StatusBuilding, model.StatusCancelled},
		{model.StatusBuilt, model.StatusCommitting},
		{model.StatusCommitting, model.StatusCommitted},
		{model.StatusCommitting, model.StatusFailed},
		{model.StatusCommitting, model.StatusCancelled},
		{model.StatusCommitted, model.StatusPublishing},
		{model.StatusPublishing, model.StatusPublished},
		{model.StatusPublishing, model.StatusFailed},
		{model.StatusPublishing, model.StatusCancelled},
		{model.StatusFailed, model.StatusPending},
		{model.StatusCancelled, model.StatusPending},
	}
	legalSet := make(map[[2]model.Status]bool, len(legal))
	for _, edge := range legal {
		legalSet[edge] = true
		if !guard.CanTransition(edge[0], edge[1]) {
			t.Errorf("CanTransition(%s, %s) = false, want true", edge[0], edge[1])
		}
	}

	// Everything not in the table is illegal, self-loops included.
	all := []model.Status{
		model.StatusPending, model.StatusBuilding, model.StatusBuilt,
		model.StatusCommitting, model.StatusCommitted, model.StatusPublishing,
		model.StatusPublished, model.StatusFailed, model.StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			if legalSet[[2]model.Status{from, to}] {
				continue
			}
			if guard.CanTransition(from, to) {
				t.Errorf("CanTransition(%s, %s) = true, want false", from, to)
			}
		}
	}
}

func TestGuard_Check(t *testing.T) {
	var guard orchestrator.Guard

	t.Run("published is final", func(t *testing.T) {
		for _, to := range []model.Status{
			model.StatusPending, model.StatusBuilding, model.StatusPublishing,
		} {
			err := guard.Check(model.StatusPublished, to)
			var invalid *orchestrator.InvalidTransitionError
			if !errors.As(err, &invalid) {
				t.Errorf("Check(published, %s) = %v, want InvalidTransitionError", to, err)
			}
		}
	})

	t.Run("no skipping steps", func(t *testing.T) {
		if err := guard.Check(model.StatusBuilt, model.StatusPublishing); err == nil {
			t.Error("Check(built, publishing) should fail, commit cannot be skipped")
		}
		if err := guard.Check(model.StatusPending, model.StatusBuilt); err == nil {
			t.Error("Check(pending, built) should fail, building cannot be skipped")
		}
	})

	t.Run("legal edge passes", func(t *testing.T) {
		if err := guard.Check(model.StatusFailed, model.StatusPending); err != nil {
			t.Errorf("Check(failed, pending) error = %v", err)
		}
	})
}
