package queue

import (
	"database/sql"
	"fmt"

	"flatman-go/internal/config"
	"flatman-go/internal/orchestrator"
)

// NewQueueFromConfig creates a queue implementation based on the queue
// config type. db is the store's connection; only the sqlite queue uses
// it.
func NewQueueFromConfig(cfg config.QueueConfig, db *sql.DB) (orchestrator.Queue, error) {
	lease := cfg.LeaseOrDefault()
	switch cfg.Type {
	case "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite queue requires a database connection")
		}
		return NewSQLiteQueue(db, lease, nil), nil
	case "memory":
		return NewMemoryQueue(lease, nil), nil
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
