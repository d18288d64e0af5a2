package checkin

// RestoreState is a step of a restore run. Every state up to and including
// StateDecoding happens before the store is touched.
type RestoreState int

const (
	StateIdle RestoreState = iota
	StateExtracting
	StateRootLocating
	StateManifestValidating
	StateDecoding
	StateTaxonomyImporting
	StateContextRefreshing
	StateVisitImporting
	StatePhotoRestoring
	StateNotifyingObservers
	StateDone
	StateFailed
)

var restoreStateNames = [...]string{
	StateIdle:               "idle",
	StateExtracting:         "extracting",
	StateRootLocating:       "root-locating",
	StateManifestValidating: "manifest-validating",
	StateDecoding:           "decoding",
	StateTaxonomyImporting:  "taxonomy-importing",
	StateContextRefreshing:  "context-refreshing",
	StateVisitImporting:     "visit-importing",
	StatePhotoRestoring:     "photo-restoring",
	StateNotifyingObservers: "notifying-observers",
	StateDone:               "done",
	StateFailed:             "failed",
}

func (s RestoreState) String() string {
	if s < 0 || int(s) >= len(restoreStateNames) {
		return "unknown"
	}
	return restoreStateNames[s]
}

// Mutating reports whether the store may have been written by the time a
// run reaches s.
func (s RestoreState) Mutating() bool {
	return s >= StateTaxonomyImporting && s != StateFailed
}
