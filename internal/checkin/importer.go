package checkin

import (
	"context"
	"fmt"

	"checkin/internal/archive"
)

// TaxonomyStats counts what phase 1 did with one taxonomy document.
type TaxonomyStats struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   int // blank name or id
	Failed    int
}

// RestoreResult summarises a restore run.
type RestoreResult struct {
	Manifest archive.Manifest
	Taxonomy map[TaxonKind]TaxonomyStats

	VisitsImported int
	VisitsFailed   int
	FailedVisitIDs []string

	// Flushes counts batch boundaries crossed while importing visits.
	Flushes   int
	Refreshes int

	PhotosRestored int
	PhotosFailed   int
}

// TaxaSkipped is the number of taxonomy rows skipped across all kinds.
func (r *RestoreResult) TaxaSkipped() int {
	n := 0
	for _, s := range r.Taxonomy {
		n += s.Skipped
	}
	return n
}

// Importer reconciles decoded archive documents into the repository. Import
// is identity preserving: taxa and visits keep their archived ids.
type Importer struct {
	repo     Repository
	assets   AssetStore
	notifier Notifier
	logger   Logger
	policy   BatchPolicy
}

// NewImporter creates an importer.
func NewImporter(repo Repository, assets AssetStore, notifier Notifier, logger Logger, policy BatchPolicy) *Importer {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Importer{
		repo:     repo,
		assets:   assets,
		notifier: notifier,
		logger:   logger,
		policy:   policy.normalized(),
	}
}

// Import writes docs into the repository: taxonomy first, then visits in
// archive order, then every file under photoDir. Per-row failures are
// counted, not returned. Once started, the run ignores cancellation of ctx.
func (im *Importer) Import(ctx context.Context, docs *archive.Documents, photoDir string, report func(RestoreState)) (*RestoreResult, error) {
	if report == nil {
		report = func(RestoreState) {}
	}
	ctx = context.WithoutCancel(ctx)
	res := &RestoreResult{Taxonomy: make(map[TaxonKind]TaxonomyStats, len(TaxonKinds))}

	report(StateTaxonomyImporting)
	for _, kind := range TaxonKinds {
		stats := im.importTaxa(ctx, kind, taxonRows(docs, kind))
		res.Taxonomy[kind] = stats
		im.logger.Info("taxonomy imported", "kind", kind.String(), "created", stats.Created,
			"updated", stats.Updated, "unchanged", stats.Unchanged, "skipped", stats.Skipped, "failed", stats.Failed)
	}

	report(StateContextRefreshing)
	if err := im.repo.Flush(ctx); err != nil {
		return res, fmt.Errorf("flushing taxonomy: %w", err)
	}
	if err := im.repo.Refresh(ctx); err != nil {
		return res, fmt.Errorf("refreshing after taxonomy import: %w", err)
	}

	report(StateVisitImporting)
	im.importVisits(ctx, docs.Visits, res)

	report(StatePhotoRestoring)
	stats, err := im.assets.ImportDir(photoDir)
	if err != nil {
		im.logger.Warn("photo restore incomplete", "dir", photoDir, "error", err)
	}
	res.PhotosRestored = stats.Copied
	res.PhotosFailed = stats.Missing

	report(StateNotifyingObservers)
	im.notifier.Broadcast(EventVisitsChanged)
	im.notifier.Broadcast(EventTaxonomyChanged)

	return res, nil
}

func (im *Importer) importTaxa(ctx context.Context, kind TaxonKind, rows []archive.TaxonRow) TaxonomyStats {
	var stats TaxonomyStats
	for _, row := range rows {
		if IsBlankName(row.Name) || row.ID == "" {
			im.logger.Info("skipping taxon without name", "kind", kind.String(), "id", row.ID)
			stats.Skipped++
			continue
		}

		existing, err := im.repo.FindTaxon(ctx, kind, row.ID)
		if err != nil {
			im.logger.Warn("looking up taxon failed", "kind", kind.String(), "id", row.ID, "error", err)
			stats.Failed++
			continue
		}

		switch {
		case existing == nil:
			err = im.repo.CreateTaxon(ctx, kind, &Taxon{ID: row.ID, Name: row.Name})
			if err == nil {
				stats.Created++
			}
		case existing.Name != row.Name:
			err = im.repo.RenameTaxon(ctx, kind, row.ID, row.Name)
			if err == nil {
				stats.Updated++
			}
		default:
			stats.Unchanged++
		}
		if err != nil {
			im.logger.Warn("importing taxon failed", "kind", kind.String(), "id", row.ID, "error", err)
			stats.Failed++
		}
	}
	return stats
}

// importVisits creates every row without flushing and lets the batch policy
// decide where the boundaries fall. A boundary is crossed whether or not the
// row that closes it was created, so the flush count depends only on the
// number of rows.
func (im *Importer) importVisits(ctx context.Context, rows []archive.VisitRow, res *RestoreResult) {
	total := len(rows)
	im.logger.Debug("importing visits", "count", total, "flush_points", im.policy.FlushPoints(total))

	var pending []string
	for i, row := range rows {
		if err := im.createVisit(ctx, row); err != nil {
			im.fail(ctx, res, row, err)
		} else {
			pending = append(pending, row.ID)
		}

		if !im.policy.ShouldFlush(i, total) {
			continue
		}
		res.Flushes++
		if err := im.repo.Flush(ctx); err != nil {
			im.logger.Error("flushing visit batch failed", "rows", len(pending), "through", i+1, "error", err)
			res.VisitsFailed += len(pending)
			res.FailedVisitIDs = append(res.FailedVisitIDs, pending...)
		} else {
			res.VisitsImported += len(pending)
			im.logger.Debug("visit batch flushed", "through", i+1, "rows", len(pending))
		}
		pending = pending[:0]
	}
}

func (im *Importer) createVisit(ctx context.Context, row archive.VisitRow) error {
	rec, err := RecordFromRow(row)
	if err != nil {
		return err
	}
	return im.repo.Create(ctx, &rec.Visit, &rec.Details, false)
}

func (im *Importer) fail(ctx context.Context, res *RestoreResult, row archive.VisitRow, err error) {
	res.VisitsFailed++
	res.FailedVisitIDs = append(res.FailedVisitIDs, row.ID)

	title := ""
	if row.Title != nil {
		title = *row.Title
	}
	groupID := ""
	if row.GroupID != nil {
		groupID = *row.GroupID
	}
	im.logger.Warn("visit import failed",
		"id", row.ID,
		"title", title,
		"label_ids", row.LabelIDs,
		"group_id", groupID,
		"member_ids", row.MemberIDs,
		"duplicate", IsDuplicateVisit(err),
		"error", err)

	if im.policy.ShouldRefresh(res.VisitsFailed) {
		res.Refreshes++
		if err := im.repo.Refresh(ctx); err != nil {
			im.logger.Warn("refresh after failures failed", "failures", res.VisitsFailed, "error", err)
		}
	}
}
