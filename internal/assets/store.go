// Package assets holds the live photo store: a flat directory of files keyed
// by file name.
package assets

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"checkin/internal/checkin"
)

// Logger is the logging surface the store uses.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Store is a directory of photo files. Names are plain file names; paths
// with directory components are reduced to their base name.
type Store struct {
	dir    string
	logger Logger
}

// NewStore returns a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string, logger Logger) *Store {
	if logger == nil {
		logger = checkin.NewNopLogger()
	}
	return &Store{dir: dir, logger: logger}
}

// Dir returns the directory backing the store.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(name string) (string, error) {
	base := filepath.Base(filepath.FromSlash(name))
	if base == "." || base == ".." || base == string(filepath.Separator) || strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("invalid photo name: %q", name)
	}
	return filepath.Join(s.dir, base), nil
}

// Open returns the named photo. A missing photo yields an error matching
// fs.ErrNotExist.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Exists reports whether the named photo is present.
func (s *Store) Exists(name string) bool {
	p, err := s.path(name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes the named photo. Removing a missing photo is not an error.
func (s *Store) Remove(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing photo %s: %w", name, err)
	}
	return nil
}

// Put stores r under name, replacing any existing photo, and returns the
// number of bytes written.
func (s *Store) Put(name string, r io.Reader) (int64, error) {
	p, err := s.path(name)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return 0, fmt.Errorf("creating photo directory: %w", err)
	}
	return writeFile(p, r)
}

// ImportDir copies every regular file under srcDir into the store,
// overwriting same-named photos. Files in subdirectories are flattened to
// their base name. Every file is copied whether or not anything references
// it. A missing srcDir is not an error. Files that cannot be copied are
// logged and counted in Missing.
func (s *Store) ImportDir(srcDir string) (checkin.RelocateStats, error) {
	var stats checkin.RelocateStats

	info, err := os.Stat(srcDir)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no photo directory to restore", "dir", srcDir)
		return stats, nil
	}
	if err != nil {
		return stats, fmt.Errorf("reading photo directory: %w", err)
	}
	if !info.IsDir() {
		return stats, fmt.Errorf("photo path is not a directory: %s", srcDir)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return stats, fmt.Errorf("creating photo directory: %w", err)
	}

	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("unable to read photo entry", "path", p, "error", err)
			stats.Missing++
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := s.copyIn(p); err != nil {
			s.logger.Warn("unable to restore photo", "path", p, "error", err)
			stats.Missing++
			return nil
		}
		stats.Copied++
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("walking photo directory: %w", err)
	}
	return stats, nil
}

func (s *Store) copyIn(src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = writeFile(filepath.Join(s.dir, filepath.Base(src)), f)
	return err
}

// writeFile writes r to destPath atomically (temp file + rename).
func writeFile(destPath string, r io.Reader) (int64, error) {
	// Temp file in the same directory so the rename stays on one filesystem
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return 0, fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return written, nil
}

var _ checkin.AssetStore = (*Store)(nil)
