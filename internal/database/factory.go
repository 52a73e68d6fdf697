package database

import (
	"fmt"
	"path/filepath"

	"flatman-go/internal/config"
)

// NewStoreFromConfig creates a store implementation based on the database
// config type.
func NewStoreFromConfig(cfg config.DatabaseConfig) (*SQLiteStore, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		dbPath := filepath.Join(cfg.DataDir, "flatman.db")
		return NewSQLiteStore(dbPath, nil, nil)
	case "memory":
		return NewSQLiteStore(":memory:", nil, nil)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
