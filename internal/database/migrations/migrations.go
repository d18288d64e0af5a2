package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// ErrNoSchema is returned by Check for a database that was never migrated.
var ErrNoSchema = errors.New("database has no schema version (needs migration)")

// Status describes where a database stands relative to the embedded
// migrations.
type Status struct {
	Current     uint
	Latest      uint
	Dirty       bool
	Initialized bool
}

// Behind returns how many migrations are still to be applied.
func (s Status) Behind() uint {
	if s.Current >= s.Latest {
		return 0
	}
	return s.Latest - s.Current
}

func (s Status) String() string {
	switch {
	case !s.Initialized:
		return fmt.Sprintf("uninitialized (latest %d)", s.Latest)
	case s.Dirty:
		return fmt.Sprintf("version %d, dirty", s.Current)
	case s.Current == s.Latest:
		return fmt.Sprintf("version %d, up to date", s.Current)
	default:
		return fmt.Sprintf("version %d of %d", s.Current, s.Latest)
	}
}

// Err reports why a database in this state cannot be used, or nil.
func (s Status) Err() error {
	switch {
	case !s.Initialized:
		return ErrNoSchema
	case s.Dirty:
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", s.Current)
	case s.Current < s.Latest:
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			s.Current, s.Latest, s.Behind())
	case s.Current > s.Latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			s.Current, s.Latest)
	}
	return nil
}

// ReadStatus reports the schema version of db against the embedded
// migrations. The caller keeps ownership of db.
func ReadStatus(db *sql.DB) (Status, error) {
	m, err := newMigrate(db)
	if err != nil {
		return Status{}, err
	}
	// Closing m would close db.

	var st Status
	st.Current, st.Dirty, err = m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		st.Current, st.Dirty = 0, false
	case err != nil:
		return Status{}, fmt.Errorf("reading database version: %w", err)
	default:
		st.Initialized = true
	}

	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return Status{}, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()
	if st.Latest, err = latestVersion(src); err != nil {
		return Status{}, fmt.Errorf("determining latest version: %w", err)
	}
	return st, nil
}

// Check returns nil if db is at exactly the latest embedded version.
func Check(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// MigrateUp applies every pending migration. An up-to-date database is not
// an error.
func MigrateUp(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("opening migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrator: %w", err)
	}
	return m, nil
}

// latestVersion walks the source to its highest version. The walk ends on
// fs.ErrNotExist; any other error is returned.
func latestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("reading first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("reading migration after %d: %w", v, err)
		}
		v = next
	}
}
