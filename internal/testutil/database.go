package testutil

import (
	"testing"

	"flatman-go/internal/database"
)

// NewTestStore creates a new in-memory SQLite store with migrations
// applied, using a fixed clock and sequential IDs. The store is
// automatically closed when the test completes.
func NewTestStore(t *testing.T) *database.SQLiteStore {
	t.Helper()
	return NewTestStoreWith(t, FixedClock(), NewStubIDGenerator())
}

// NewTestStoreWith is NewTestStore with explicit clock and ID generator.
func NewTestStoreWith(t *testing.T, clock *StubClock, idgen *StubIDGenerator) *database.SQLiteStore {
	t.Helper()

	store, err := database.NewSQLiteStore(":memory:", clock, idgen)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
