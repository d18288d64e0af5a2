package database

import (
	"os"
	"path/filepath"
	"testing"

	"checkin/internal/config"
)

func TestNewRepositoryFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewRepositoryFromConfig(cfg, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewRepositoryFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if got.Path() != ":memory:" {
			t.Errorf("Path() = %q, want :memory:", got.Path())
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}
		got, err := NewRepositoryFromConfig(cfg, nil, nil, nil)
		if err != nil {
			t.Fatalf("NewRepositoryFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, err := os.Stat(filepath.Join(dir, DatabaseFile)); err != nil {
			t.Errorf("database file not created: %v", err)
		}
		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
		st, err := got.SchemaStatus()
		if err != nil {
			t.Fatalf("SchemaStatus() error = %v", err)
		}
		if !st.Initialized || st.Behind() != 0 {
			t.Errorf("SchemaStatus() = %+v, want initialized and up to date", st)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewRepositoryFromConfig(cfg, nil, nil, nil)
		if err == nil {
			t.Error("NewRepositoryFromConfig() expected error for missing data_dir, got nil")
		}
		if got != nil {
			t.Error("NewRepositoryFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewRepositoryFromConfig(cfg, nil, nil, nil)
		if err == nil {
			t.Error("NewRepositoryFromConfig() expected error for unknown type, got nil")
		}
		if got != nil {
			t.Error("NewRepositoryFromConfig() should return nil on error")
			got.Close()
		}
	})
}
