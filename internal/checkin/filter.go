package checkin

import "time"

// Filter selects visits for Repository.FetchAll. Every non-zero field adds a
// predicate and predicates are AND-ed together. Text is the exception inside
// its own predicate: it matches the title OR the resolved address.
type Filter struct {
	Text      string
	LabelID   string
	GroupID   string
	MemberID  string
	Since     time.Time
	Until     time.Time
	WithPhoto bool
}

// IsZero reports whether the filter selects every visit.
func (f Filter) IsZero() bool {
	return f.Text == "" && f.LabelID == "" && f.GroupID == "" && f.MemberID == "" &&
		f.Since.IsZero() && f.Until.IsZero() && !f.WithPhoto
}
