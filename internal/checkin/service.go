package checkin

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"checkin/internal/archive"
)

// RestoreOptions tunes a single restore run.
type RestoreOptions struct {
	// OnState, if set, is called as the run enters each state.
	OnState func(RestoreState)
}

// Service is the backup and restore unit of work. Export, Restore and the
// visit maintenance calls are serialized, so a backup never observes a
// half-applied restore.
type Service struct {
	mu sync.Mutex

	repo     Repository
	assets   AssetStore
	writer   *archive.Writer
	reader   *archive.Reader
	notifier Notifier
	logger   Logger
	importer *Importer
}

// NewService creates a service over repo and assets.
func NewService(repo Repository, assets AssetStore, writer *archive.Writer, reader *archive.Reader, notifier Notifier, logger Logger, policy BatchPolicy) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Service{
		repo:     repo,
		assets:   assets,
		writer:   writer,
		reader:   reader,
		notifier: notifier,
		logger:   logger,
		importer: NewImporter(repo, assets, notifier, logger, policy),
	}
}

// Snapshot reads the whole store into archive documents. Visits are in
// chronological order.
func (s *Service) Snapshot(ctx context.Context) (*archive.Snapshot, error) {
	records, err := s.repo.FetchAll(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("fetching visits: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Visit, records[j].Visit
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})

	docs := archive.Documents{Visits: make([]archive.VisitRow, 0, len(records))}
	for _, r := range records {
		docs.Visits = append(docs.Visits, VisitRow(r))
	}
	for _, kind := range TaxonKinds {
		taxa, err := s.repo.ListTaxa(ctx, kind)
		if err != nil {
			return nil, fmt.Errorf("listing %ss: %w", kind, err)
		}
		rows := TaxonRows(taxa)
		switch kind {
		case KindLabel:
			docs.Labels = rows
		case KindGroup:
			docs.Groups = rows
		case KindMember:
			docs.Members = rows
		}
	}
	return archive.NewSnapshot(docs), nil
}

// Export writes the whole store to a new archive in destDir.
func (s *Service) Export(ctx context.Context, destDir string) (*archive.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("exporting", "visits", len(snap.Visits), "labels", len(snap.Labels),
		"groups", len(snap.Groups), "members", len(snap.Members), "photos", len(snap.PhotoNames))

	res, err := s.writer.Write(ctx, snap, s.assets, destDir)
	if err != nil {
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	for _, name := range res.MissingPhotos {
		s.logger.Warn("photo omitted from archive", "name", name)
	}
	return res, nil
}

// Restore imports the archive at archivePath. Archive problems are reported
// as *archive.InvalidArchiveError or *archive.UnsupportedVersionError before
// anything is written. Once importing starts, row failures are counted in
// the result rather than returned.
func (s *Service) Restore(ctx context.Context, archivePath string, opts RestoreOptions) (res *RestoreResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := StateIdle
	report := func(next RestoreState) {
		state = next
		s.logger.Debug("restore state", "state", next.String())
		if opts.OnState != nil {
			opts.OnState(next)
		}
	}
	defer func() {
		if err != nil {
			s.logger.Error("restore failed", "state", state.String(), "store_touched", state.Mutating(), "error", err)
			report(StateFailed)
		}
	}()

	report(StateExtracting)
	ext, err := s.reader.Extract(ctx, archivePath)
	if err != nil {
		return nil, fmt.Errorf("extracting archive: %w", err)
	}
	defer ext.Close()

	report(StateRootLocating)
	root, err := archive.LocateRoot(ext.Dir)
	if err != nil {
		return nil, err
	}

	report(StateManifestValidating)
	manifest, err := archive.ReadManifest(root)
	if err != nil {
		return nil, err
	}
	s.logger.Info("restoring archive", "path", archivePath, "app_version", manifest.AppVersion,
		"backup_date", manifest.BackupDate.Time, "visits", manifest.VisitCount)

	report(StateDecoding)
	docs, err := archive.DecodeDocuments(root)
	if err != nil {
		return nil, err
	}
	warnCountMismatch(s.logger, "visits", manifest.VisitCount, len(docs.Visits))
	warnCountMismatch(s.logger, "labels", manifest.LabelCount, len(docs.Labels))
	warnCountMismatch(s.logger, "groups", manifest.GroupCount, len(docs.Groups))
	warnCountMismatch(s.logger, "members", manifest.MemberCount, len(docs.Members))
	for doc, strategy := range docs.Strategies {
		if strategy != archive.ISO8601.Name {
			s.logger.Info("decoded legacy dates", "document", doc, "strategy", strategy)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err = s.importer.Import(ctx, docs, filepath.Join(root, archive.PhotosDir), report)
	if err != nil {
		return res, err
	}
	res.Manifest = *manifest

	report(StateDone)
	s.logger.Info("restore finished", "visits_imported", res.VisitsImported, "visits_failed", res.VisitsFailed,
		"taxa_skipped", res.TaxaSkipped(), "photos_restored", res.PhotosRestored, "photos_failed", res.PhotosFailed)
	return res, nil
}

func warnCountMismatch(logger Logger, what string, declared, actual int) {
	if declared != actual {
		logger.Warn("manifest count mismatch", "document", what, "manifest", declared, "actual", actual)
	}
}

// Visits lists visits matching filter.
func (s *Service) Visits(ctx context.Context, filter Filter) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.FetchAll(ctx, filter)
}

// Visit returns one visit, or nil if there is none with that id.
func (s *Service) Visit(ctx context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.Get(ctx, id)
}

// Taxa lists every taxon of kind.
func (s *Service) Taxa(ctx context.Context, kind TaxonKind) ([]*Taxon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.ListTaxa(ctx, kind)
}

// EditVisit applies mutate to the details of visit id and commits.
func (s *Service) EditVisit(ctx context.Context, id string, mutate func(*VisitDetails) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.UpdateDetails(ctx, id, mutate); err != nil {
		return err
	}
	if err := s.repo.Flush(ctx); err != nil {
		return fmt.Errorf("committing edit: %w", err)
	}
	s.notifier.Broadcast(EventVisitsChanged)
	return nil
}

// DeleteVisit removes one visit and its photos.
func (s *Service) DeleteVisit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Flush(ctx); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	s.notifier.Broadcast(EventVisitsChanged)
	return nil
}

// PurgeVisits removes every visit and returns how many there were. Taxa and
// photo files are left alone.
func (s *Service) PurgeVisits(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.repo.CountVisits(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting visits: %w", err)
	}
	if err := s.repo.DeleteAllVisits(ctx); err != nil {
		return 0, err
	}
	if err := s.repo.Flush(ctx); err != nil {
		return 0, fmt.Errorf("committing purge: %w", err)
	}
	s.notifier.Broadcast(EventVisitsChanged)
	return n, nil
}
