package checkin

// ReconcileIDSet resolves a requested set of taxonomy ids against the ids that
// actually exist. Ids that match nothing are dropped silently, as are repeats;
// the first-seen order of the survivors is kept.
//
// This is the single place where dangling references are forgiven. A visit
// pointing at a label that no longer exists keeps the visit and loses the
// relation.
func ReconcileIDSet(requested []string, exists func(id string) bool) (kept []string, dropped []string) {
	seen := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if exists(id) {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	return kept, dropped
}

// ReconcileID is ReconcileIDSet for a to-one relation.
func ReconcileID(requested *string, exists func(id string) bool) *string {
	if requested == nil || !exists(*requested) {
		return nil
	}
	id := *requested
	return &id
}
