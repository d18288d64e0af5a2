package checkin

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrArchiveNotFound is returned by Vault.GetArchive for an unknown name.
var ErrArchiveNotFound = errors.New("archive not found")

// Vault provides an interface for off-host archive storage.
// All operations use io.Reader/io.Writer for streaming so large archives are
// never loaded entirely into memory.
type Vault interface {
	// PutArchive stores a finished archive under name.
	// size is the number of bytes that will be read from r.
	PutArchive(ctx context.Context, name string, r io.Reader, size int64) error

	// GetArchive retrieves an archive by name and writes it to w.
	GetArchive(ctx context.Context, name string, w io.Writer) error

	// ListArchives returns the stored archives, newest first.
	ListArchives(ctx context.Context) ([]ArchiveInfo, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}

// ArchiveInfo describes one archive held by a vault.
type ArchiveInfo struct {
	Name       string
	Size       int64
	ModifiedAt time.Time
}
