package checkin

import (
	"slices"
	"strings"
	"time"
)

// Integrity is the tamper-evidence blob produced by the signing service.
// It is carried verbatim: nothing in this module recomputes or verifies it.
type Integrity struct {
	Algorithm       string
	SignatureBase64 string
	PublicKeyBase64 string
	PayloadHashHex  string
	CreatedAt       time.Time
}

// Visit is the immutable core of a check-in. Once created, none of its
// fields change.
type Visit struct {
	ID                    string
	Timestamp             time.Time // UTC
	Latitude              float64
	Longitude             float64
	HorizontalAccuracy    *float64
	IsSimulatedBySoftware *bool
	IsProducedByAccessory *bool
	Integrity             Integrity
}

// VisitDetails is the mutable annotation layer attached 1:1 to a Visit.
// LabelIDs and MemberIDs have set semantics; PhotoPaths is ordered.
type VisitDetails struct {
	Title            *string
	FacilityName     *string
	FacilityAddress  *string
	FacilityCategory *string
	Comment          *string
	LabelIDs         []string
	GroupID          *string
	MemberIDs        []string
	ResolvedAddress  *string
	PhotoPaths       []string
}

// Record pairs a visit with its details, as returned by repository reads.
type Record struct {
	Visit   Visit
	Details VisitDetails
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := &Record{Visit: r.Visit, Details: r.Details}
	c.Visit.HorizontalAccuracy = clonePtr(r.Visit.HorizontalAccuracy)
	c.Visit.IsSimulatedBySoftware = clonePtr(r.Visit.IsSimulatedBySoftware)
	c.Visit.IsProducedByAccessory = clonePtr(r.Visit.IsProducedByAccessory)
	c.Details = r.Details.Clone()
	return c
}

// Clone returns a deep copy of the details.
func (d VisitDetails) Clone() VisitDetails {
	return VisitDetails{
		Title:            clonePtr(d.Title),
		FacilityName:     clonePtr(d.FacilityName),
		FacilityAddress:  clonePtr(d.FacilityAddress),
		FacilityCategory: clonePtr(d.FacilityCategory),
		Comment:          clonePtr(d.Comment),
		LabelIDs:         slices.Clone(d.LabelIDs),
		GroupID:          clonePtr(d.GroupID),
		MemberIDs:        slices.Clone(d.MemberIDs),
		ResolvedAddress:  clonePtr(d.ResolvedAddress),
		PhotoPaths:       slices.Clone(d.PhotoPaths),
	}
}

// TitleOrEmpty is a convenience for log lines and listings.
func (d VisitDetails) TitleOrEmpty() string {
	if d.Title == nil {
		return ""
	}
	return *d.Title
}

// TaxonKind identifies one of the three taxonomy entity types.
type TaxonKind int

const (
	KindLabel TaxonKind = iota
	KindGroup
	KindMember
)

// TaxonKinds lists the kinds in import order.
var TaxonKinds = []TaxonKind{KindLabel, KindGroup, KindMember}

func (k TaxonKind) String() string {
	switch k {
	case KindLabel:
		return "label"
	case KindGroup:
		return "group"
	case KindMember:
		return "member"
	default:
		return "unknown"
	}
}

// ParseTaxonKind accepts singular or plural kind names.
func ParseTaxonKind(s string) (TaxonKind, bool) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "label":
		return KindLabel, true
	case "group":
		return KindGroup, true
	case "member":
		return KindMember, true
	}
	return 0, false
}

// Taxon is a label, group or member. Only Name is mutable.
type Taxon struct {
	ID   string
	Name string
}

// IsBlankName reports whether a taxon name is empty or whitespace only.
func IsBlankName(name string) bool {
	return strings.TrimSpace(name) == ""
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
