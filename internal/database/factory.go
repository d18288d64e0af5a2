package database

import (
	"fmt"
	"os"
	"path/filepath"

	"checkin/internal/checkin"
	"checkin/internal/config"
)

// DatabaseFile is the file name of the store under the database data_dir.
const DatabaseFile = "checkin.db"

// NewRepositoryFromConfig creates a repository based on the database config type.
func NewRepositoryFromConfig(cfg config.DatabaseConfig, assets checkin.AssetStore, ids checkin.IDGenerator, logger checkin.Logger) (*SQLiteRepository, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		return NewSQLiteRepository(filepath.Join(cfg.DataDir, DatabaseFile), assets, ids, logger)
	case "memory":
		return NewSQLiteRepository(":memory:", assets, ids, logger)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
