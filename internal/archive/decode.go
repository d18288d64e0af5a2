package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
)

// ReadManifest reads and validates root/manifest.json. The schema version is
// checked before anything else is decoded.
func ReadManifest(root string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(root, ManifestFile))
	if err != nil {
		return nil, invalid("reading "+ManifestFile, err)
	}
	if !gjson.ValidBytes(data) {
		return nil, invalid(ManifestFile+" is not valid JSON", nil)
	}
	version := gjson.GetBytes(data, "version")
	switch {
	case !version.Exists() || version.Type == gjson.Null:
		return nil, invalid(ManifestFile+" has no version", nil)
	case version.Type != gjson.String:
		return nil, &UnsupportedVersionError{Actual: version.Raw}
	case version.String() != SchemaVersion:
		return nil, &UnsupportedVersionError{Actual: version.String()}
	}

	m, _, err := decodeWithFallback(data, func(m *Manifest, s DateStrategy) error {
		return m.BackupDate.resolve(s)
	})
	if err != nil {
		return nil, invalid("decoding "+ManifestFile, err)
	}
	return &m, nil
}

// DecodeDocuments decodes the visit and taxonomy documents under root. Each
// document is tried with ISO8601 dates first and ReferenceSeconds second.
func DecodeDocuments(root string) (*Documents, error) {
	docs := &Documents{Strategies: make(map[string]string, 4)}

	data, err := readDocument(root, VisitsFile)
	if err != nil {
		return nil, err
	}
	visits, strategy, err := decodeWithFallback(data, resolveVisits)
	if err != nil {
		return nil, invalid("decoding "+VisitsFile, err)
	}
	docs.Visits = visits
	docs.Strategies[VisitsFile] = strategy.Name

	for _, t := range []struct {
		name string
		dst  *[]TaxonRow
	}{
		{LabelsFile, &docs.Labels},
		{GroupsFile, &docs.Groups},
		{MembersFile, &docs.Members},
	} {
		data, err := readDocument(root, t.name)
		if err != nil {
			return nil, err
		}
		rows, strategy, err := decodeWithFallback(data, func(*[]TaxonRow, DateStrategy) error { return nil })
		if err != nil {
			return nil, invalid("decoding "+t.name, err)
		}
		*t.dst = rows
		docs.Strategies[t.name] = strategy.Name
	}
	return docs, nil
}

func resolveVisits(rows *[]VisitRow, s DateStrategy) error {
	for i := range *rows {
		row := &(*rows)[i]
		if row.ID == "" {
			return fmt.Errorf("visit at index %d has no id", i)
		}
		if err := row.TimestampUTC.resolve(s); err != nil {
			return fmt.Errorf("visit %s timestampUTC: %w", row.ID, err)
		}
		if err := row.IntegrityCreatedAtUTC.resolve(s); err != nil {
			return fmt.Errorf("visit %s integrityCreatedAtUTC: %w", row.ID, err)
		}
	}
	return nil
}

func readDocument(root, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(root, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, invalid(name+" is missing", nil)
	}
	if err != nil {
		return nil, invalid("reading "+name, err)
	}
	return data, nil
}

// Inspect extracts the archive at archivePath, locates its root and returns
// the validated manifest. Nothing is left on disk.
func (r *Reader) Inspect(ctx context.Context, archivePath string) (*Manifest, error) {
	ext, err := r.Extract(ctx, archivePath)
	if err != nil {
		return nil, err
	}
	defer ext.Close()
	root, err := LocateRoot(ext.Dir)
	if err != nil {
		return nil, err
	}
	return ReadManifest(root)
}
