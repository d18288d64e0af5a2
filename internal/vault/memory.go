package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"checkin/internal/checkin"
)

type memoryArchive struct {
	data       []byte
	modifiedAt time.Time
}

// MemoryVault is an in-memory implementation of the Vault interface.
// It keeps every archive in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryVault struct {
	name     string
	archives map[string]memoryArchive
	mu       sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		archives: make(map[string]memoryArchive),
	}
}

// PutArchive stores an archive, replacing any archive with the same name.
func (m *MemoryVault) PutArchive(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := validName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.archives[name] = memoryArchive{data: data, modifiedAt: time.Now().UTC()}
	return nil
}

// GetArchive writes the named archive to w.
func (m *MemoryVault) GetArchive(ctx context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.archives[name]
	if !ok {
		return fmt.Errorf("%w: %s", checkin.ErrArchiveNotFound, name)
	}
	if _, err := io.Copy(w, bytes.NewReader(a.data)); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return nil
}

// ListArchives returns the stored archives, newest first.
func (m *MemoryVault) ListArchives(ctx context.Context) ([]checkin.ArchiveInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]checkin.ArchiveInfo, 0, len(m.archives))
	for name, a := range m.archives {
		infos = append(infos, checkin.ArchiveInfo{Name: name, Size: int64(len(a.data)), ModifiedAt: a.modifiedAt})
	}
	sortNewestFirst(infos)
	return infos, nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryVault implements checkin.Vault interface
var _ checkin.Vault = (*MemoryVault)(nil)
