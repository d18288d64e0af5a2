package checkin

import "context"

// Repository provides CRUD and relational integrity over the canonical store.
//
// Writes are staged in a single session and become durable on Flush. Create
// takes a flushNow flag so one-off callers can commit immediately while bulk
// callers decide the flush cadence themselves.
type Repository interface {
	// Visit operations

	// Create inserts a visit and its details. It returns a *DuplicateVisitError
	// if a visit with the same id exists, including one staged but not yet
	// flushed. Taxonomy ids that resolve to nothing are dropped. Photo paths are
	// stored in order.
	Create(ctx context.Context, visit *Visit, details *VisitDetails, flushNow bool) error

	// UpdateDetails loads the mutable projection of a visit, applies mutate and
	// persists the result. Photo rows are diffed: extinct ones are deleted along
	// with their files, unchanged ones keep their identity, and every row gets
	// its position rewritten. Returns ErrVisitNotFound for an unknown id.
	UpdateDetails(ctx context.Context, id string, mutate func(*VisitDetails) error) error

	// Delete removes a visit after deleting its photo files from the asset store.
	// Returns ErrVisitNotFound for an unknown id.
	Delete(ctx context.Context, id string) error

	// DeleteAllVisits removes every visit, children before parents.
	DeleteAllVisits(ctx context.Context) error

	// Get returns a visit by id, or nil if it does not exist.
	Get(ctx context.Context, id string) (*Record, error)

	// FetchAll returns visits matching filter, newest first.
	FetchAll(ctx context.Context, filter Filter) ([]*Record, error)

	// CountVisits returns the number of visits, staged ones included.
	CountVisits(ctx context.Context) (int, error)

	// Taxonomy operations

	// FindTaxon returns a taxon by id, or nil if it does not exist.
	FindTaxon(ctx context.Context, kind TaxonKind, id string) (*Taxon, error)

	// ListTaxa returns every taxon of a kind ordered by name.
	ListTaxa(ctx context.Context, kind TaxonKind) ([]*Taxon, error)

	// CreateTaxon stages a new taxon with the given id.
	CreateTaxon(ctx context.Context, kind TaxonKind, taxon *Taxon) error

	// RenameTaxon stages a name change.
	RenameTaxon(ctx context.Context, kind TaxonKind, id string, name string) error

	// Session operations

	// Flush makes every staged write durable.
	Flush(ctx context.Context) error

	// Refresh drops cached read state so memory stays bounded during long runs.
	// Staged writes are unaffected.
	Refresh(ctx context.Context) error
}
