package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultPhotoWorkers bounds concurrent photo copies during an export.
const DefaultPhotoWorkers = 4

// PhotoSource reads photo files from the live asset store by name.
type PhotoSource interface {
	Open(name string) (io.ReadCloser, error)
}

// Result describes a finished archive.
type Result struct {
	Filename      string
	Path          string
	Size          int64
	VisitCount    int
	PhotoCount    int
	MissingPhotos []string
}

// Writer packages snapshots into zip archives.
type Writer struct {
	appVersion   string
	clock        Clock
	logger       Logger
	photoWorkers int
}

// NewWriter returns a writer stamping appVersion into every manifest.
// A nil clock or logger falls back to the system clock and a silent logger.
func NewWriter(appVersion string, clock Clock, logger Logger, photoWorkers int) *Writer {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if photoWorkers <= 0 {
		photoWorkers = DefaultPhotoWorkers
	}
	return &Writer{appVersion: appVersion, clock: clock, logger: logger, photoWorkers: photoWorkers}
}

// ArchiveFilename is the name an archive created at t gets.
func ArchiveFilename(t time.Time) string {
	return "checkin-backup-" + t.UTC().Format("20060102T150405Z") + ".zip"
}

// Write stages snap into a temporary directory and packages it as a zip in
// destDir. Referenced photos missing from photos are logged and left out.
// On failure no archive is left in destDir.
func (w *Writer) Write(ctx context.Context, snap *Snapshot, photos PhotoSource, destDir string) (*Result, error) {
	now := w.clock.Now().UTC()

	staging, err := os.MkdirTemp("", "checkin-export-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	copied, missing, err := w.stagePhotos(ctx, snap.PhotoNames, photos, filepath.Join(staging, PhotosDir))
	if err != nil {
		return nil, err
	}

	manifest := Manifest{
		Version:     SchemaVersion,
		AppVersion:  w.appVersion,
		BackupDate:  NewDate(now),
		VisitCount:  len(snap.Visits),
		LabelCount:  len(snap.Labels),
		GroupCount:  len(snap.Groups),
		MemberCount: len(snap.Members),
		PhotoCount:  copied,
	}

	docs := []struct {
		name string
		v    any
	}{
		{ManifestFile, manifest},
		{VisitsFile, nonNil(snap.Visits)},
		{LabelsFile, nonNil(snap.Labels)},
		{GroupsFile, nonNil(snap.Groups)},
		{MembersFile, nonNil(snap.Members)},
	}
	for _, d := range docs {
		if err := writeJSON(filepath.Join(staging, d.name), d.v); err != nil {
			return nil, fmt.Errorf("writing %s: %w", d.name, err)
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	filename := ArchiveFilename(now)
	path := filepath.Join(destDir, filename)
	size, err := zipDir(staging, path)
	if err != nil {
		return nil, fmt.Errorf("packaging archive: %w", err)
	}

	w.logger.Info("archive written", "path", path, "visits", manifest.VisitCount,
		"photos", copied, "missing_photos", len(missing), "bytes", size)

	return &Result{
		Filename:      filename,
		Path:          path,
		Size:          size,
		VisitCount:    manifest.VisitCount,
		PhotoCount:    copied,
		MissingPhotos: missing,
	}, nil
}

// stagePhotos copies each named photo into dir. A photo that cannot be opened
// is reported as missing; failing to write into the staging area is fatal.
func (w *Writer) stagePhotos(ctx context.Context, names []string, photos PhotoSource, dir string) (int, []string, error) {
	if len(names) == 0 || photos == nil {
		return 0, append([]string(nil), names...), nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, nil, fmt.Errorf("creating photos directory: %w", err)
	}

	var (
		mu      sync.Mutex
		copied  int
		missing []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.photoWorkers)
	for _, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src, err := photos.Open(name)
			if err != nil {
				w.logger.Warn("photo missing from asset store, skipping", "name", name, "error", err)
				mu.Lock()
				missing = append(missing, name)
				mu.Unlock()
				return nil
			}
			defer src.Close()
			if err := copyToFile(filepath.Join(dir, name), src); err != nil {
				return fmt.Errorf("staging photo %s: %w", name, err)
			}
			mu.Lock()
			copied++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}
	sort.Strings(missing)
	return copied, missing, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func copyToFile(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// zipDir writes every file under dir into a zip at dest, with entry names
// relative to dir. The zip is written to a temp file next to dest and renamed
// into place once complete.
func zipDir(dir, dest string) (size int64, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".checkin-backup-*.tmp")
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		hdr.Method = zip.Deflate
		out, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		_, err = io.Copy(out, in)
		return err
	})
	if err != nil {
		return 0, err
	}
	if err = zw.Close(); err != nil {
		return 0, err
	}
	if err = tmp.Sync(); err != nil {
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
