package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultMaxEntrySize caps a single extracted file.
const DefaultMaxEntrySize int64 = 1 << 30

// Format is an archive container format.
type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatTarGz
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	default:
		return "unknown"
	}
}

var (
	zipMagic  = []byte("PK\x03\x04")
	zipEmpty  = []byte("PK\x05\x06")
	gzipMagic = []byte{0x1f, 0x8b}
)

// DetectFormat guesses the container format of the file at p, first by
// extension and then by its leading bytes.
func DetectFormat(p string) (Format, error) {
	lower := strings.ToLower(p)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz, nil
	}

	f, err := os.Open(p)
	if err != nil {
		return FormatUnknown, err
	}
	defer f.Close()
	head := make([]byte, 4)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, err
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmpty):
		return FormatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGz, nil
	}
	return FormatUnknown, nil
}

// Extraction is an archive unpacked into a private temporary directory.
type Extraction struct {
	Dir     string
	Format  Format
	Entries int
}

// Close removes the extraction directory.
func (e *Extraction) Close() error {
	if e == nil || e.Dir == "" {
		return nil
	}
	return os.RemoveAll(e.Dir)
}

// Reader unpacks archives.
type Reader struct {
	maxEntrySize int64
	logger       Logger
}

// NewReader returns a reader refusing entries larger than maxEntrySize bytes.
func NewReader(maxEntrySize int64, logger Logger) *Reader {
	if maxEntrySize <= 0 {
		maxEntrySize = DefaultMaxEntrySize
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Reader{maxEntrySize: maxEntrySize, logger: logger}
}

// Extract unpacks the archive at archivePath into a fresh temporary
// directory. The caller must Close the returned extraction.
func (r *Reader) Extract(ctx context.Context, archivePath string) (*Extraction, error) {
	if _, err := os.Stat(archivePath); err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	format, err := DetectFormat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("detecting archive format: %w", err)
	}
	if format == FormatUnknown {
		return nil, invalid("unrecognized container format", nil)
	}

	dir, err := os.MkdirTemp("", "checkin-import-*")
	if err != nil {
		return nil, fmt.Errorf("creating extraction directory: %w", err)
	}
	ext := &Extraction{Dir: dir, Format: format}

	switch format {
	case FormatZip:
		ext.Entries, err = r.extractZip(ctx, archivePath, dir)
	case FormatTarGz:
		ext.Entries, err = r.extractTarGz(ctx, archivePath, dir)
	}
	if err != nil {
		ext.Close()
		return nil, err
	}
	r.logger.Debug("archive extracted", "path", archivePath, "format", format.String(), "entries", ext.Entries)
	return ext, nil
}

func (r *Reader) extractZip(ctx context.Context, archivePath, dest string) (int, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, invalid("reading zip", err)
	}
	defer zr.Close()

	n := 0
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return n, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			r.logger.Debug("skipping non-regular zip entry", "name", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return n, invalid("opening zip entry "+f.Name, err)
		}
		err = r.writeEntry(target, f.Name, rc)
		rc.Close()
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (r *Reader) extractTarGz(ctx context.Context, archivePath, dest string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(bufio.NewReader(f))
	if err != nil {
		return 0, invalid("reading gzip", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, invalid("reading tar", err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return n, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return n, err
			}
		case tar.TypeReg:
			if err := r.writeEntry(target, hdr.Name, tr); err != nil {
				return n, err
			}
			n++
		default:
			r.logger.Debug("skipping non-regular tar entry", "name", hdr.Name)
		}
	}
}

func (r *Reader) writeEntry(target, name string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, io.LimitReader(src, r.maxEntrySize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return invalid("extracting "+name, err)
	}
	if written > r.maxEntrySize {
		return invalid(fmt.Sprintf("entry %s exceeds %d bytes", name, r.maxEntrySize), nil)
	}
	return nil
}

// safeJoin resolves an archive entry name under dest, refusing names that
// would land outside it.
func safeJoin(dest, name string) (string, error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(name) {
		return "", invalid("entry escapes archive root: "+name, nil)
	}
	if clean == "." {
		return dest, nil
	}
	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}

// LocateRoot finds the directory holding manifest.json: dir itself, or else
// the first immediate subdirectory (in name order) that has one.
func LocateRoot(dir string) (string, error) {
	if fileExists(filepath.Join(dir, ManifestFile)) {
		return dir, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("reading extraction directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, e.Name())
		if fileExists(filepath.Join(candidate, ManifestFile)) {
			return candidate, nil
		}
	}
	return "", invalid("no "+ManifestFile+" found", nil)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
