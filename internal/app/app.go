package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"checkin/internal/archive"
	"checkin/internal/assets"
	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/database"
	"checkin/internal/database/migrations"
	"checkin/internal/vault"
)

// Version is stamped into archives when the config does not set app_version.
var Version = "dev"

// App is the application layer between the CLI and checkin.Service.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the store lifecycle on Close.
type App struct {
	cfg     *config.Config
	repo    *database.SQLiteRepository
	assets  *assets.Store
	reader  *archive.Reader
	service *checkin.Service
	clock   checkin.Clock
	ids     checkin.IDGenerator
	logger  *slogAdapter
	op      *Operation
	logFile *os.File
	closed  bool
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "Export", "Import").
// The caller must call Close when done.
func New(cfg *config.Config, operation string) (*App, error) {
	return newApp(cfg, operation, os.Stderr, checkin.RealClock{}, checkin.UUIDGenerator{})
}

func newApp(cfg *config.Config, operation string, stderr io.Writer, clock checkin.Clock, ids checkin.IDGenerator) (*App, error) {
	cfg.ApplyDefaults()
	if cfg.Assets.Dir == "" {
		return nil, errors.New("assets dir not configured")
	}

	opID := clock.Now().UTC().Format("20060102T150405Z")
	sl, logFile, err := newLogger(cfg.LogDir, opID, stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: sl}

	store := assets.NewStore(cfg.Assets.Dir, logger)

	repo, err := database.NewRepositoryFromConfig(cfg.Database, store, ids, logger)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating database: %w", err)
	}

	version := cfg.AppVersion
	if version == "" {
		version = Version
	}
	writer := archive.NewWriter(version, clock, logger, cfg.Archive.PhotoWorkers)
	reader := archive.NewReader(cfg.Archive.MaxEntrySize, logger)

	notifier := checkin.NotifierFunc(func(e checkin.ChangeEvent) {
		logger.Info("change event", "event", string(e))
	})
	policy := checkin.BatchPolicy{Size: cfg.Import.BatchSize, RefreshEvery: cfg.Import.RefreshEvery}
	svc := checkin.NewService(repo, store, writer, reader, notifier, logger, policy)

	return &App{
		cfg:     cfg,
		repo:    repo,
		assets:  store,
		reader:  reader,
		service: svc,
		clock:   clock,
		ids:     ids,
		logger:  logger,
		op:      NewOperation(operation, ""),
		logFile: logFile,
	}, nil
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for mutating commands.
func (a *App) persistOperation(ctx context.Context, parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.repo.CreateOperation(ctx, a.op.Operation, a.op.Parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// ExportResult describes a finished export.
type ExportResult struct {
	*archive.Result
	// Vault is the name of the vault the archive was shipped to, if any.
	Vault string
}

// Export writes the whole store to a new archive in the configured output
// directory. When toVault is set, the archive is also uploaded to the first
// configured vault.
func (a *App) Export(ctx context.Context, toVault bool) (*ExportResult, error) {
	outDir := a.cfg.Archive.OutputDir
	if outDir == "" {
		return nil, errors.New("archive output_dir not configured")
	}
	if err := a.persistOperation(ctx, outDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, a.op.Track(fmt.Errorf("creating output directory: %w", err))
	}

	res, err := a.service.Export(ctx, outDir)
	if err != nil {
		return nil, a.op.Track(err)
	}
	out := &ExportResult{Result: res}
	if !toVault {
		return out, nil
	}

	v, name, err := a.openVault(ctx, "")
	if err != nil {
		return out, a.op.Track(err)
	}
	if err := a.upload(ctx, v, res); err != nil {
		return out, a.op.Track(fmt.Errorf("uploading to vault %s: %w", name, err))
	}
	out.Vault = name
	a.logger.Info("archive shipped", "vault", name, "archive", res.Filename, "size", res.Size)
	return out, nil
}

func (a *App) upload(ctx context.Context, v checkin.Vault, res *archive.Result) error {
	f, err := os.Open(res.Path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()
	return v.PutArchive(ctx, res.Filename, f, res.Size)
}

// Import restores the archive at rawPath into the store.
func (a *App) Import(ctx context.Context, rawPath string, opts checkin.RestoreOptions) (*checkin.RestoreResult, error) {
	p, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if err := a.persistOperation(ctx, p); err != nil {
		return nil, err
	}
	res, err := a.service.Restore(ctx, p, opts)
	return res, a.op.Track(err)
}

// ImportFromVault downloads an archive from the named vault into a scoped
// temp file and restores it. An empty archiveName picks the newest archive.
func (a *App) ImportFromVault(ctx context.Context, vaultName, archiveName string, opts checkin.RestoreOptions) (*checkin.RestoreResult, error) {
	if err := a.persistOperation(ctx, vaultName+":"+archiveName); err != nil {
		return nil, err
	}
	res, err := a.importFromVault(ctx, vaultName, archiveName, opts)
	return res, a.op.Track(err)
}

func (a *App) importFromVault(ctx context.Context, vaultName, archiveName string, opts checkin.RestoreOptions) (*checkin.RestoreResult, error) {
	v, name, err := a.openVault(ctx, vaultName)
	if err != nil {
		return nil, err
	}
	if archiveName == "" {
		infos, err := v.ListArchives(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing vault %s: %w", name, err)
		}
		if len(infos) == 0 {
			return nil, fmt.Errorf("vault %s holds no archives", name)
		}
		archiveName = infos[0].Name
	}

	tmp, err := os.CreateTemp("", "checkin-import-*"+filepath.Ext(archiveName))
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := v.GetArchive(ctx, archiveName, tmp); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("downloading %s from vault %s: %w", archiveName, name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	a.logger.Info("archive fetched", "vault", name, "archive", archiveName)

	return a.service.Restore(ctx, tmp.Name(), opts)
}

// InspectArchive validates the archive at rawPath and returns its manifest
// without touching the store.
func (a *App) InspectArchive(ctx context.Context, rawPath string) (*archive.Manifest, error) {
	p, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.reader.Inspect(ctx, p)
}

// ListVaultArchives lists the archives held by the named vault. An empty
// name selects the first configured vault.
func (a *App) ListVaultArchives(ctx context.Context, vaultName string) (string, []checkin.ArchiveInfo, error) {
	v, name, err := a.openVault(ctx, vaultName)
	if err != nil {
		return "", nil, err
	}
	infos, err := v.ListArchives(ctx)
	if err != nil {
		return name, nil, fmt.Errorf("listing vault %s: %w", name, err)
	}
	return name, infos, nil
}

func (a *App) openVault(ctx context.Context, name string) (checkin.Vault, string, error) {
	if len(a.cfg.Vaults) == 0 {
		return nil, "", errors.New("no vaults configured")
	}
	vc := a.cfg.Vaults[0]
	if name != "" {
		var ok bool
		if vc, ok = a.cfg.FindVault(name); !ok {
			return nil, "", fmt.Errorf("unknown vault: %s", name)
		}
	}
	v, err := vault.NewVaultFromConfig(ctx, vc)
	if err != nil {
		return nil, "", fmt.Errorf("creating vault: %w", err)
	}
	return v, vc.Name, nil
}

// Visits lists visits matching filter, newest first.
func (a *App) Visits(ctx context.Context, filter checkin.Filter) ([]*checkin.Record, error) {
	return a.service.Visits(ctx, filter)
}

// Visit returns one visit, or nil if it does not exist.
func (a *App) Visit(ctx context.Context, id string) (*checkin.Record, error) {
	return a.service.Visit(ctx, id)
}

// Taxa lists the taxa of one kind.
func (a *App) Taxa(ctx context.Context, kind checkin.TaxonKind) ([]*checkin.Taxon, error) {
	return a.service.Taxa(ctx, kind)
}

// VisitEdit describes a change to a visit's details. Nil fields are left
// alone; an empty string clears the field.
type VisitEdit struct {
	Title   *string
	Comment *string
	// AddPhotos are local file paths copied into the photo store and appended.
	AddPhotos []string
	// RemovePhotos are stored photo names to detach.
	RemovePhotos []string
}

// EditVisit applies edit to visit id.
func (a *App) EditVisit(ctx context.Context, id string, edit VisitEdit) error {
	if err := a.persistOperation(ctx, id); err != nil {
		return err
	}
	return a.op.Track(a.editVisit(ctx, id, edit))
}

func (a *App) editVisit(ctx context.Context, id string, edit VisitEdit) error {
	added := make([]string, 0, len(edit.AddPhotos))
	cleanup := func() {
		for _, name := range added {
			if err := a.assets.Remove(name); err != nil {
				a.logger.Warn("removing photo after failed edit", "name", name, "error", err)
			}
		}
	}
	for _, p := range edit.AddPhotos {
		name, err := a.storePhoto(p)
		if err != nil {
			cleanup()
			return err
		}
		added = append(added, name)
	}

	err := a.service.EditVisit(ctx, id, func(d *checkin.VisitDetails) error {
		if edit.Title != nil {
			d.Title = emptyToNil(*edit.Title)
		}
		if edit.Comment != nil {
			d.Comment = emptyToNil(*edit.Comment)
		}
		paths, err := detachPhotos(d.PhotoPaths, edit.RemovePhotos)
		if err != nil {
			return err
		}
		d.PhotoPaths = append(paths, added...)
		return nil
	})
	if err != nil {
		cleanup()
		return err
	}
	return nil
}

// storePhoto copies a local file into the photo store under a fresh name.
func (a *App) storePhoto(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("opening photo: %w", err)
	}
	defer f.Close()

	name := a.ids.New() + strings.ToLower(filepath.Ext(p))
	if _, err := a.assets.Put(name, f); err != nil {
		return "", fmt.Errorf("storing photo %s: %w", p, err)
	}
	return name, nil
}

// detachPhotos removes the named photos from paths, matching either the
// stored path or its file name.
func detachPhotos(paths, remove []string) ([]string, error) {
	if len(remove) == 0 {
		return paths, nil
	}
	drop := make(map[string]bool, len(remove))
	for _, r := range remove {
		drop[r] = false
	}
	var kept []string
	for _, p := range paths {
		key := p
		if _, ok := drop[key]; !ok {
			key = archive.PhotoName(p)
		}
		if _, ok := drop[key]; ok {
			drop[key] = true
			continue
		}
		kept = append(kept, p)
	}
	for r, found := range drop {
		if !found {
			return nil, fmt.Errorf("photo not attached: %s", r)
		}
	}
	return kept, nil
}

func emptyToNil(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// DeleteVisit removes one visit and its photos.
func (a *App) DeleteVisit(ctx context.Context, id string) error {
	if err := a.persistOperation(ctx, id); err != nil {
		return err
	}
	return a.op.Track(a.service.DeleteVisit(ctx, id))
}

// PurgeVisits removes every visit and returns how many were removed.
func (a *App) PurgeVisits(ctx context.Context) (int, error) {
	if err := a.persistOperation(ctx, ""); err != nil {
		return 0, err
	}
	n, err := a.service.PurgeVisits(ctx)
	return n, a.op.Track(err)
}

// History returns the most recent operations.
func (a *App) History(ctx context.Context, limit int) ([]*database.Operation, error) {
	return a.repo.ListOperations(ctx, limit)
}

// SchemaStatus reports the database schema version.
func (a *App) SchemaStatus() (migrations.Status, error) {
	return a.repo.SchemaStatus()
}

// Close finalizes the operation record and closes all resources.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var firstErr error

	if a.op.Persisted() {
		if err := a.repo.FinishOperation(context.Background(), a.op.ID, a.op.Status, a.clock.Now()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.repo.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
