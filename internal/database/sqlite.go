package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"checkin/internal/archive"
	"checkin/internal/checkin"
	"checkin/internal/database/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// timeLayout stores instants as fixed-width UTC text so that string order is
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteRepository implements checkin.Repository on SQLite.
//
// All access goes through a single connection. Writes are staged in one
// long-lived transaction (the session) that is opened lazily by the first
// write and committed by Flush; reads run inside the session when one is
// open, so staged rows are visible to them. Each mutating call is wrapped in
// a savepoint so a failed call leaves nothing half-written in the session.
type SQLiteRepository struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	assets checkin.AssetStore
	ids    checkin.IDGenerator
	logger checkin.Logger

	tx    *sql.Tx
	cache map[string]*checkin.Record
}

// NewSQLiteRepository opens the database at path (":memory:" for an
// in-memory database) and brings its schema up to date. Photo files of
// deleted visits are removed from assets.
func NewSQLiteRepository(path string, assets checkin.AssetStore, ids checkin.IDGenerator, logger checkin.Logger) (*SQLiteRepository, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrations.Check(db); err != nil {
		db.Close()
		return nil, err
	}
	if ids == nil {
		ids = checkin.UUIDGenerator{}
	}
	if logger == nil {
		logger = checkin.NewNopLogger()
	}
	return &SQLiteRepository{
		db:     db,
		path:   path,
		assets: assets,
		ids:    ids,
		logger: logger,
		cache:  make(map[string]*checkin.Record),
	}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: the session transaction owns it, and every
	// connection to :memory: would otherwise be a separate database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the session if one is open, else the database.
func (r *SQLiteRepository) q() querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

// session returns the open session, beginning one if needed. The session
// outlives the caller's context, so it is not bound to it.
func (r *SQLiteRepository) session(ctx context.Context) (*sql.Tx, error) {
	if r.tx != nil {
		return r.tx, nil
	}
	tx, err := r.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	r.tx = tx
	return tx, nil
}

// atomically runs fn inside a savepoint of the session. If fn fails the
// savepoint is rolled back and the rest of the session is untouched.
func (r *SQLiteRepository) atomically(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	tx, err := r.session(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("opening savepoint: %w", err)
	}
	if err := fn(tx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rolling back savepoint: %w", rbErr))
		}
		if _, relErr := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("releasing savepoint: %w", relErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("releasing savepoint: %w", err)
	}
	return nil
}

// Session operations

// Flush commits the session.
func (r *SQLiteRepository) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *SQLiteRepository) flushLocked() error {
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	if err := tx.Commit(); err != nil {
		// The staged rows are gone, and with them anything cached from them.
		r.cache = make(map[string]*checkin.Record)
		return fmt.Errorf("committing session: %w", err)
	}
	return nil
}

// Rollback discards every write staged since the last Flush.
func (r *SQLiteRepository) Rollback() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx == nil {
		return nil
	}
	tx := r.tx
	r.tx = nil
	r.cache = make(map[string]*checkin.Record)
	if err := tx.Rollback(); err != nil {
		return fmt.Errorf("rolling back session: %w", err)
	}
	return nil
}

// Refresh drops the record cache. Staged writes stay in the session.
func (r *SQLiteRepository) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug("dropping record cache", "records", len(r.cache))
	r.cache = make(map[string]*checkin.Record)
	return nil
}

// Visit operations

func (r *SQLiteRepository) Create(ctx context.Context, visit *checkin.Visit, details *checkin.VisitDetails, flushNow bool) error {
	if visit == nil || visit.ID == "" {
		return errors.New("creating visit: missing id")
	}
	var d checkin.VisitDetails
	if details != nil {
		d = details.Clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.atomically(ctx, "create_visit", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits WHERE id = ?", visit.ID).Scan(&n); err != nil {
			return fmt.Errorf("checking for existing visit: %w", err)
		}
		if n > 0 {
			return &checkin.DuplicateVisitError{ID: visit.ID}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO visits (id, timestamp_utc, latitude, longitude, horizontal_accuracy,
				is_simulated_by_software, is_produced_by_accessory, integrity_algo,
				integrity_signature_base64, integrity_public_key_base64,
				integrity_payload_hash_hex, integrity_created_at_utc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			visit.ID, formatTime(visit.Timestamp), visit.Latitude, visit.Longitude,
			nullFloat(visit.HorizontalAccuracy), nullBool(visit.IsSimulatedBySoftware),
			nullBool(visit.IsProducedByAccessory), visit.Integrity.Algorithm,
			visit.Integrity.SignatureBase64, visit.Integrity.PublicKeyBase64,
			visit.Integrity.PayloadHashHex, formatTime(visit.Integrity.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting visit: %w", err)
		}

		resolved, err := r.resolveRelations(ctx, tx, visit.ID, d)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO visit_details (visit_id, title, facility_name, facility_address,
				facility_category, comment, group_id, resolved_address)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			visit.ID, nullString(resolved.Title), nullString(resolved.FacilityName),
			nullString(resolved.FacilityAddress), nullString(resolved.FacilityCategory),
			nullString(resolved.Comment), nullString(resolved.GroupID), nullString(resolved.ResolvedAddress),
		); err != nil {
			return fmt.Errorf("inserting visit details: %w", err)
		}
		if err := writeRelations(ctx, tx, visit.ID, resolved); err != nil {
			return err
		}
		for i, p := range resolved.PhotoPaths {
			if err := r.insertPhoto(ctx, tx, visit.ID, i, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if flushNow {
		return r.flushLocked()
	}
	return nil
}

func (r *SQLiteRepository) UpdateDetails(ctx context.Context, id string, mutate func(*checkin.VisitDetails) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var extinct []string
	err := r.atomically(ctx, "update_details", func(tx *sql.Tx) error {
		rec, err := loadRecord(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return checkin.ErrVisitNotFound
		}

		d := rec.Details.Clone()
		if err := mutate(&d); err != nil {
			return err
		}
		resolved, err := r.resolveRelations(ctx, tx, id, d)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE visit_details SET title = ?, facility_name = ?, facility_address = ?,
				facility_category = ?, comment = ?, group_id = ?, resolved_address = ?
			WHERE visit_id = ?`,
			nullString(resolved.Title), nullString(resolved.FacilityName),
			nullString(resolved.FacilityAddress), nullString(resolved.FacilityCategory),
			nullString(resolved.Comment), nullString(resolved.GroupID),
			nullString(resolved.ResolvedAddress), id,
		); err != nil {
			return fmt.Errorf("updating visit details: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM visit_labels WHERE visit_id = ?", id); err != nil {
			return fmt.Errorf("clearing labels: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM visit_members WHERE visit_id = ?", id); err != nil {
			return fmt.Errorf("clearing members: %w", err)
		}
		if err := writeRelations(ctx, tx, id, resolved); err != nil {
			return err
		}

		extinct, err = r.syncPhotos(ctx, tx, id, resolved.PhotoPaths)
		return err
	})
	if err != nil {
		return err
	}
	delete(r.cache, id)

	for _, p := range extinct {
		if err := r.removeUnreferencedPhoto(ctx, p); err != nil {
			r.logger.Warn("removing photo file failed", "visit", id, "name", p, "error", err)
		}
	}
	return nil
}

// syncPhotos diffs the stored photo rows of a visit against paths. Rows whose
// path survives keep their id and get the new position; new paths get new
// rows; the rest are deleted and the file names no path of this visit still
// maps to are returned.
func (r *SQLiteRepository) syncPhotos(ctx context.Context, tx *sql.Tx, visitID string, paths []string) ([]string, error) {
	existing, err := photoRows(ctx, tx, visitID)
	if err != nil {
		return nil, err
	}
	byPath := make(map[string][]string)
	for _, row := range existing {
		byPath[row.path] = append(byPath[row.path], row.id)
	}

	reused := make(map[string]bool, len(existing))
	for i, p := range paths {
		if ids := byPath[p]; len(ids) > 0 {
			byPath[p] = ids[1:]
			reused[ids[0]] = true
			if _, err := tx.ExecContext(ctx, "UPDATE visit_photos SET position = ? WHERE id = ?", i, ids[0]); err != nil {
				return nil, fmt.Errorf("reordering photo: %w", err)
			}
			continue
		}
		if err := r.insertPhoto(ctx, tx, visitID, i, p); err != nil {
			return nil, err
		}
	}

	keep := make(map[string]bool, len(paths))
	for _, p := range paths {
		keep[archive.PhotoName(p)] = true
	}
	var extinct []string
	for _, row := range existing {
		if reused[row.id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM visit_photos WHERE id = ?", row.id); err != nil {
			return nil, fmt.Errorf("deleting photo: %w", err)
		}
		if name := archive.PhotoName(row.path); name != "" && !keep[name] {
			extinct = append(extinct, name)
			keep[name] = true
		}
	}
	return extinct, nil
}

func (r *SQLiteRepository) insertPhoto(ctx context.Context, tx *sql.Tx, visitID string, position int, path string) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO visit_photos (id, visit_id, position, path, name) VALUES (?, ?, ?, ?, ?)",
		r.ids.New(), visitID, position, path, archive.PhotoName(path),
	); err != nil {
		return fmt.Errorf("inserting photo: %w", err)
	}
	return nil
}

// removeUnreferencedPhoto deletes the named file unless some photo row still
// maps to it. The store is flat, so rows are matched by file name, not path.
func (r *SQLiteRepository) removeUnreferencedPhoto(ctx context.Context, name string) error {
	if r.assets == nil {
		return nil
	}
	var n int
	if err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM visit_photos WHERE name = ?", name).Scan(&n); err != nil {
		return fmt.Errorf("counting photo references: %w", err)
	}
	if n > 0 {
		return nil
	}
	return r.assets.Remove(name)
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := loadRecord(ctx, r.q(), id)
	if err != nil {
		return err
	}
	if rec == nil {
		return checkin.ErrVisitNotFound
	}

	// Files first; a file another visit still maps to stays.
	if r.assets != nil {
		seen := make(map[string]bool, len(rec.Details.PhotoPaths))
		for _, p := range rec.Details.PhotoPaths {
			name := archive.PhotoName(p)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			var n int
			err := r.q().QueryRowContext(ctx,
				"SELECT COUNT(*) FROM visit_photos WHERE name = ? AND visit_id <> ?", name, id).Scan(&n)
			if err != nil {
				return fmt.Errorf("counting photo references: %w", err)
			}
			if n > 0 {
				continue
			}
			if err := r.assets.Remove(name); err != nil {
				return fmt.Errorf("deleting photo %s: %w", name, err)
			}
		}
	}

	err = r.atomically(ctx, "delete_visit", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM visits WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting visit: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	delete(r.cache, id)
	return nil
}

// DeleteAllVisits removes every visit. Detail rows (and with them relations
// and photo rows) go first, then the visits. Photo files are not touched.
func (r *SQLiteRepository) DeleteAllVisits(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	err := r.atomically(ctx, "delete_all_visits", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM visit_details"); err != nil {
			return fmt.Errorf("deleting visit details: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM visits")
		if err != nil {
			return fmt.Errorf("deleting visits: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}

	// Merge into the live view.
	for id := range r.cache {
		delete(r.cache, id)
	}
	r.logger.Info("deleted all visits", "count", deleted)
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*checkin.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(ctx, id)
}

func (r *SQLiteRepository) getLocked(ctx context.Context, id string) (*checkin.Record, error) {
	if rec, ok := r.cache[id]; ok {
		return rec.Clone(), nil
	}
	rec, err := loadRecord(ctx, r.q(), id)
	if err != nil || rec == nil {
		return nil, err
	}
	r.cache[id] = rec.Clone()
	return rec, nil
}

// FetchAll returns matching visits newest first. Since is inclusive and
// Until exclusive.
func (r *SQLiteRepository) FetchAll(ctx context.Context, filter checkin.Filter) ([]*checkin.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query, args := buildFetchQuery(filter)
	ids, err := queryStrings(ctx, r.q(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching visits: %w", err)
	}

	records := make([]*checkin.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := r.getLocked(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	return records, nil
}

func buildFetchQuery(f checkin.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Text != "" {
		pattern := "%" + escapeLike(f.Text) + "%"
		where = append(where, `(d.title LIKE ? ESCAPE '\' OR d.resolved_address LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.LabelID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM visit_labels l WHERE l.visit_id = v.id AND l.label_id = ?)")
		args = append(args, f.LabelID)
	}
	if f.GroupID != "" {
		where = append(where, "d.group_id = ?")
		args = append(args, f.GroupID)
	}
	if f.MemberID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM visit_members m WHERE m.visit_id = v.id AND m.member_id = ?)")
		args = append(args, f.MemberID)
	}
	if !f.Since.IsZero() {
		where = append(where, "v.timestamp_utc >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "v.timestamp_utc < ?")
		args = append(args, formatTime(f.Until))
	}
	if f.WithPhoto {
		where = append(where, "EXISTS (SELECT 1 FROM visit_photos p WHERE p.visit_id = v.id)")
	}

	query := "SELECT v.id FROM visits v LEFT JOIN visit_details d ON d.visit_id = v.id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY v.timestamp_utc DESC, v.id"
	return query, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *SQLiteRepository) CountVisits(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	if err := r.q().QueryRowContext(ctx, "SELECT COUNT(*) FROM visits").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting visits: %w", err)
	}
	return n, nil
}

// Taxonomy operations

func taxonTable(kind checkin.TaxonKind) (string, error) {
	switch kind {
	case checkin.KindLabel:
		return "labels", nil
	case checkin.KindGroup:
		return "visit_groups", nil
	case checkin.KindMember:
		return "members", nil
	}
	return "", fmt.Errorf("unknown taxon kind: %d", kind)
}

func (r *SQLiteRepository) FindTaxon(ctx context.Context, kind checkin.TaxonKind, id string) (*checkin.Taxon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return findTaxon(ctx, r.q(), kind, id)
}

func findTaxon(ctx context.Context, q querier, kind checkin.TaxonKind, id string) (*checkin.Taxon, error) {
	table, err := taxonTable(kind)
	if err != nil {
		return nil, err
	}
	var t checkin.Taxon
	err = q.QueryRowContext(ctx, "SELECT id, name FROM "+table+" WHERE id = ?", id).Scan(&t.ID, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", kind, err)
	}
	return &t, nil
}

func (r *SQLiteRepository) ListTaxa(ctx context.Context, kind checkin.TaxonKind) ([]*checkin.Taxon, error) {
	table, err := taxonTable(kind)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.q().QueryContext(ctx, "SELECT id, name FROM "+table+" ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("listing %ss: %w", kind, err)
	}
	defer rows.Close()

	var taxa []*checkin.Taxon
	for rows.Next() {
		var t checkin.Taxon
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		taxa = append(taxa, &t)
	}
	return taxa, rows.Err()
}

func (r *SQLiteRepository) CreateTaxon(ctx context.Context, kind checkin.TaxonKind, taxon *checkin.Taxon) error {
	table, err := taxonTable(kind)
	if err != nil {
		return err
	}
	if taxon == nil || taxon.ID == "" {
		return fmt.Errorf("creating %s: missing id", kind)
	}
	if checkin.IsBlankName(taxon.Name) {
		return fmt.Errorf("creating %s %s: blank name", kind, taxon.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.session(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO "+table+" (id, name) VALUES (?, ?)", taxon.ID, taxon.Name); err != nil {
		return fmt.Errorf("creating %s: %w", kind, err)
	}
	return nil
}

func (r *SQLiteRepository) RenameTaxon(ctx context.Context, kind checkin.TaxonKind, id string, name string) error {
	table, err := taxonTable(kind)
	if err != nil {
		return err
	}
	if checkin.IsBlankName(name) {
		return fmt.Errorf("renaming %s %s: blank name", kind, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.session(ctx)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "UPDATE "+table+" SET name = ? WHERE id = ?", name, id)
	if err != nil {
		return fmt.Errorf("renaming %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("renaming %s: %s not found", kind, id)
	}
	return nil
}

// resolveRelations drops taxonomy references that match nothing.
func (r *SQLiteRepository) resolveRelations(ctx context.Context, q querier, visitID string, d checkin.VisitDetails) (checkin.VisitDetails, error) {
	var lookupErr error
	exists := func(kind checkin.TaxonKind) func(string) bool {
		return func(id string) bool {
			t, err := findTaxon(ctx, q, kind, id)
			if err != nil && lookupErr == nil {
				lookupErr = err
			}
			return t != nil
		}
	}

	var dropped []string
	d.LabelIDs, dropped = checkin.ReconcileIDSet(d.LabelIDs, exists(checkin.KindLabel))
	if len(dropped) > 0 {
		r.logger.Debug("dropping unknown label ids", "visit", visitID, "ids", dropped)
	}
	d.MemberIDs, dropped = checkin.ReconcileIDSet(d.MemberIDs, exists(checkin.KindMember))
	if len(dropped) > 0 {
		r.logger.Debug("dropping unknown member ids", "visit", visitID, "ids", dropped)
	}
	if group := checkin.ReconcileID(d.GroupID, exists(checkin.KindGroup)); group == nil && d.GroupID != nil {
		r.logger.Debug("dropping unknown group id", "visit", visitID, "id", *d.GroupID)
		d.GroupID = nil
	}
	if lookupErr != nil {
		return d, fmt.Errorf("resolving relations: %w", lookupErr)
	}
	return d, nil
}

func writeRelations(ctx context.Context, tx *sql.Tx, visitID string, d checkin.VisitDetails) error {
	for i, id := range d.LabelIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO visit_labels (visit_id, label_id, position) VALUES (?, ?, ?)", visitID, id, i); err != nil {
			return fmt.Errorf("linking label: %w", err)
		}
	}
	for i, id := range d.MemberIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO visit_members (visit_id, member_id, position) VALUES (?, ?, ?)", visitID, id, i); err != nil {
			return fmt.Errorf("linking member: %w", err)
		}
	}
	return nil
}

// loadRecord reads a visit with its details, or nil if it does not exist.
// Every query is drained before the next starts: there is one connection.
func loadRecord(ctx context.Context, q querier, id string) (*checkin.Record, error) {
	var (
		rec                               checkin.Record
		ts, integrityAt                   string
		accuracy                          sql.NullFloat64
		simulated, accessory              sql.NullBool
		title, facName, facAddr, facCat   sql.NullString
		comment, groupID, resolvedAddress sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT v.id, v.timestamp_utc, v.latitude, v.longitude, v.horizontal_accuracy,
			v.is_simulated_by_software, v.is_produced_by_accessory, v.integrity_algo,
			v.integrity_signature_base64, v.integrity_public_key_base64,
			v.integrity_payload_hash_hex, v.integrity_created_at_utc,
			d.title, d.facility_name, d.facility_address, d.facility_category,
			d.comment, d.group_id, d.resolved_address
		FROM visits v LEFT JOIN visit_details d ON d.visit_id = v.id
		WHERE v.id = ?`, id,
	).Scan(
		&rec.Visit.ID, &ts, &rec.Visit.Latitude, &rec.Visit.Longitude, &accuracy,
		&simulated, &accessory, &rec.Visit.Integrity.Algorithm,
		&rec.Visit.Integrity.SignatureBase64, &rec.Visit.Integrity.PublicKeyBase64,
		&rec.Visit.Integrity.PayloadHashHex, &integrityAt,
		&title, &facName, &facAddr, &facCat, &comment, &groupID, &resolvedAddress,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("loading visit %s: %w", id, err)
	}

	if rec.Visit.Timestamp, err = parseTime(ts); err != nil {
		return nil, fmt.Errorf("loading visit %s: %w", id, err)
	}
	if rec.Visit.Integrity.CreatedAt, err = parseTime(integrityAt); err != nil {
		return nil, fmt.Errorf("loading visit %s: %w", id, err)
	}
	rec.Visit.HorizontalAccuracy = floatPtr(accuracy)
	rec.Visit.IsSimulatedBySoftware = boolPtr(simulated)
	rec.Visit.IsProducedByAccessory = boolPtr(accessory)

	d := &rec.Details
	d.Title = stringPtr(title)
	d.FacilityName = stringPtr(facName)
	d.FacilityAddress = stringPtr(facAddr)
	d.FacilityCategory = stringPtr(facCat)
	d.Comment = stringPtr(comment)
	d.GroupID = stringPtr(groupID)
	d.ResolvedAddress = stringPtr(resolvedAddress)

	if d.LabelIDs, err = queryStrings(ctx, q,
		"SELECT label_id FROM visit_labels WHERE visit_id = ? ORDER BY position", id); err != nil {
		return nil, fmt.Errorf("loading labels of %s: %w", id, err)
	}
	if d.MemberIDs, err = queryStrings(ctx, q,
		"SELECT member_id FROM visit_members WHERE visit_id = ? ORDER BY position", id); err != nil {
		return nil, fmt.Errorf("loading members of %s: %w", id, err)
	}
	if d.PhotoPaths, err = queryStrings(ctx, q,
		"SELECT path FROM visit_photos WHERE visit_id = ? ORDER BY position", id); err != nil {
		return nil, fmt.Errorf("loading photos of %s: %w", id, err)
	}
	return &rec, nil
}

type photoRow struct {
	id   string
	path string
}

func photoRows(ctx context.Context, q querier, visitID string) ([]photoRow, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, path FROM visit_photos WHERE visit_id = ? ORDER BY position", visitID)
	if err != nil {
		return nil, fmt.Errorf("loading photos: %w", err)
	}
	defer rows.Close()
	var out []photoRow
	for rows.Next() {
		var p photoRow
		if err := rows.Scan(&p.id, &p.path); err != nil {
			return nil, fmt.Errorf("scanning photo: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func queryStrings(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Operation history

// Operation is one recorded CLI run.
type Operation struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Operation  string
	Parameters string
	Status     string
}

func (r *SQLiteRepository) CreateOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.q().ExecContext(ctx,
		"INSERT INTO operations (started_at, operation, parameters, status) VALUES (?, ?, ?, 'running')",
		formatTime(startedAt), operation, parameters)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return &Operation{
		ID:         id,
		StartedAt:  startedAt.UTC(),
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
	}, nil
}

func (r *SQLiteRepository) FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.q().ExecContext(ctx,
		"UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		formatTime(finishedAt), status, id); err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns up to limit operations, newest first.
func (r *SQLiteRepository) ListOperations(ctx context.Context, limit int) ([]*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.q().QueryContext(ctx, `
		SELECT id, started_at, finished_at, operation, parameters, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		var (
			op       Operation
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&op.ID, &started, &finished, &op.Operation, &op.Parameters, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if op.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, err
			}
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (r *SQLiteRepository) Path() string {
	return r.path
}

// SchemaStatus reports the schema version. It needs the connection, so it
// fails while a session holds unflushed writes.
func (r *SQLiteRepository) SchemaStatus() (migrations.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tx != nil {
		return migrations.Status{}, errors.New("reading schema status: session has unflushed writes")
	}
	return migrations.ReadStatus(r.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (r *SQLiteRepository) CheckMigrations() error {
	st, err := r.SchemaStatus()
	if err != nil {
		return err
	}
	return st.Err()
}

// Close commits anything still staged and closes the database.
func (r *SQLiteRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	flushErr := r.flushLocked()
	closeErr := r.db.Close()
	r.db = nil
	return errors.Join(flushErr, closeErr)
}

// Column helpers

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullBool(p *bool) sql.NullBool {
	if p == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func boolPtr(n sql.NullBool) *bool {
	if !n.Valid {
		return nil
	}
	b := n.Bool
	return &b
}

// Compile-time check that SQLiteRepository implements checkin.Repository
var _ checkin.Repository = (*SQLiteRepository)(nil)
