package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"checkin/internal/archive"
	"checkin/internal/checkin"
)

// BaseTime is the timestamp of the first fixture visit. Later visits are one
// hour apart.
var BaseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// PayloadHashHex returns the SHA-256 of data as lowercase hex, the format of
// Integrity.PayloadHashHex.
func PayloadHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// VisitID is the id of fixture visit i.
func VisitID(i int) string {
	return fmt.Sprintf("visit-%03d", i)
}

// NewRecord builds fixture visit i with a plausible integrity blob and a
// title. Relations and photos are left empty.
func NewRecord(i int) *checkin.Record {
	id := VisitID(i)
	ts := BaseTime.Add(time.Duration(i) * time.Hour)
	payload := fmt.Sprintf("%s|%s|%.6f|%.6f", id, ts.Format(time.RFC3339), 48.1+float64(i)/1000, 11.5)
	return &checkin.Record{
		Visit: checkin.Visit{
			ID:                 id,
			Timestamp:          ts,
			Latitude:           48.1 + float64(i)/1000,
			Longitude:          11.5,
			HorizontalAccuracy: checkin.Ptr(5.0 + float64(i%7)),
			Integrity: checkin.Integrity{
				Algorithm:       "ES256",
				SignatureBase64: base64.StdEncoding.EncodeToString([]byte("sig:" + id)),
				PublicKeyBase64: base64.StdEncoding.EncodeToString([]byte("device-key")),
				PayloadHashHex:  PayloadHashHex([]byte(payload)),
				CreatedAt:       ts.Add(2 * time.Second),
			},
		},
		Details: checkin.VisitDetails{
			Title: checkin.Ptr(fmt.Sprintf("Visit %d", i)),
		},
	}
}

// Taxonomy is the fixture taxonomy: two labels, one group, two members.
func Taxonomy() map[checkin.TaxonKind][]*checkin.Taxon {
	return map[checkin.TaxonKind][]*checkin.Taxon{
		checkin.KindLabel:  {{ID: "label-work", Name: "Work"}, {ID: "label-food", Name: "Food"}},
		checkin.KindGroup:  {{ID: "group-trip", Name: "Spring trip"}},
		checkin.KindMember: {{ID: "member-ann", Name: "Ann"}, {ID: "member-bo", Name: "Bo"}},
	}
}

// SeedTaxonomy creates the fixture taxonomy in repo and flushes.
func SeedTaxonomy(t *testing.T, repo checkin.Repository) {
	t.Helper()
	ctx := context.Background()
	for _, kind := range checkin.TaxonKinds {
		for _, taxon := range Taxonomy()[kind] {
			if err := repo.CreateTaxon(ctx, kind, taxon); err != nil {
				t.Fatalf("CreateTaxon(%s, %s) error = %v", kind, taxon.ID, err)
			}
		}
	}
	if err := repo.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

// SeedVisits creates fixture visits 0..n-1 in repo and flushes. Every visit
// is related to the fixture taxonomy, which must already exist.
func SeedVisits(t *testing.T, repo checkin.Repository, n int) []*checkin.Record {
	t.Helper()
	ctx := context.Background()
	out := make([]*checkin.Record, 0, n)
	for i := 0; i < n; i++ {
		rec := NewRecord(i)
		rec.Details.LabelIDs = []string{"label-work"}
		rec.Details.GroupID = checkin.Ptr("group-trip")
		rec.Details.MemberIDs = []string{"member-ann", "member-bo"}
		if err := repo.Create(ctx, &rec.Visit, &rec.Details, false); err != nil {
			t.Fatalf("Create(%s) error = %v", rec.Visit.ID, err)
		}
		out = append(out, rec)
	}
	if err := repo.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	return out
}

// Documents builds decoded archive documents holding the fixture taxonomy
// and n fixture visits related to it.
func Documents(n int) *archive.Documents {
	tax := Taxonomy()
	docs := &archive.Documents{
		Labels:  checkin.TaxonRows(tax[checkin.KindLabel]),
		Groups:  checkin.TaxonRows(tax[checkin.KindGroup]),
		Members: checkin.TaxonRows(tax[checkin.KindMember]),
	}
	for i := 0; i < n; i++ {
		rec := NewRecord(i)
		rec.Details.LabelIDs = []string{"label-food"}
		rec.Details.MemberIDs = []string{"member-ann"}
		docs.Visits = append(docs.Visits, checkin.VisitRow(rec))
	}
	return docs
}
