package testutil

import (
	"path/filepath"
	"testing"

	"checkin/internal/assets"
	"checkin/internal/checkin"
	"checkin/internal/database"
)

// NewTestStore creates a photo store in a fresh temp directory.
func NewTestStore(t *testing.T) *assets.Store {
	t.Helper()
	return assets.NewStore(filepath.Join(t.TempDir(), "photos"), nil)
}

// NewTestRepository creates a new in-memory SQLite repository with the schema
// applied. Photo files are deleted from store. The repository is closed when
// the test completes.
func NewTestRepository(t *testing.T, store checkin.AssetStore) *database.SQLiteRepository {
	t.Helper()

	repo, err := database.NewSQLiteRepository(":memory:", store, NewPrefixedIDGenerator("photo"), nil)
	if err != nil {
		t.Fatalf("failed to open repository: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}
