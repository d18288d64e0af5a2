package checkin

import "io"

// AssetStore is the live photo store, keyed by filename.
type AssetStore interface {
	// Open opens a stored photo. A missing photo yields an error matching
	// fs.ErrNotExist.
	Open(name string) (io.ReadCloser, error)

	// Remove deletes a stored photo. Removing a missing photo is not an error.
	Remove(name string) error

	// ImportDir copies every file found under dir into the store, replacing
	// same-named files. A missing dir is a no-op.
	ImportDir(dir string) (RelocateStats, error)
}

// RelocateStats summarises an ImportDir run.
type RelocateStats struct {
	Copied  int
	Missing int
}
