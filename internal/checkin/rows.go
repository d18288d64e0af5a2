package checkin

import (
	"errors"
	"slices"

	"checkin/internal/archive"
)

// VisitRow flattens a record into its archive form.
func VisitRow(r *Record) archive.VisitRow {
	v, d := r.Visit, r.Details
	return archive.VisitRow{
		ID:                    v.ID,
		TimestampUTC:          archive.NewDate(v.Timestamp),
		Latitude:              v.Latitude,
		Longitude:             v.Longitude,
		HorizontalAccuracy:    clonePtr(v.HorizontalAccuracy),
		IsSimulatedBySoftware: clonePtr(v.IsSimulatedBySoftware),
		IsProducedByAccessory: clonePtr(v.IsProducedByAccessory),

		IntegrityAlgo:            v.Integrity.Algorithm,
		IntegritySignatureBase64: v.Integrity.SignatureBase64,
		IntegrityPublicKeyBase64: v.Integrity.PublicKeyBase64,
		IntegrityPayloadHashHex:  v.Integrity.PayloadHashHex,
		IntegrityCreatedAtUTC:    archive.NewDate(v.Integrity.CreatedAt),

		Title:            clonePtr(d.Title),
		FacilityName:     clonePtr(d.FacilityName),
		FacilityAddress:  clonePtr(d.FacilityAddress),
		FacilityCategory: clonePtr(d.FacilityCategory),
		Comment:          clonePtr(d.Comment),
		LabelIDs:         orEmpty(d.LabelIDs),
		GroupID:          clonePtr(d.GroupID),
		MemberIDs:        orEmpty(d.MemberIDs),
		ResolvedAddress:  clonePtr(d.ResolvedAddress),
		PhotoPaths:       orEmpty(d.PhotoPaths),
	}
}

var errMissingVisitID = errors.New("visit row has no id")

// RecordFromRow rebuilds the visit and its details from an archive row. The
// integrity fields are copied as-is.
func RecordFromRow(row archive.VisitRow) (*Record, error) {
	if row.ID == "" {
		return nil, errMissingVisitID
	}
	return &Record{
		Visit: Visit{
			ID:                    row.ID,
			Timestamp:             row.TimestampUTC.UTC(),
			Latitude:              row.Latitude,
			Longitude:             row.Longitude,
			HorizontalAccuracy:    clonePtr(row.HorizontalAccuracy),
			IsSimulatedBySoftware: clonePtr(row.IsSimulatedBySoftware),
			IsProducedByAccessory: clonePtr(row.IsProducedByAccessory),
			Integrity: Integrity{
				Algorithm:       row.IntegrityAlgo,
				SignatureBase64: row.IntegritySignatureBase64,
				PublicKeyBase64: row.IntegrityPublicKeyBase64,
				PayloadHashHex:  row.IntegrityPayloadHashHex,
				CreatedAt:       row.IntegrityCreatedAtUTC.UTC(),
			},
		},
		Details: VisitDetails{
			Title:            clonePtr(row.Title),
			FacilityName:     clonePtr(row.FacilityName),
			FacilityAddress:  clonePtr(row.FacilityAddress),
			FacilityCategory: clonePtr(row.FacilityCategory),
			Comment:          clonePtr(row.Comment),
			LabelIDs:         slices.Clone(row.LabelIDs),
			GroupID:          clonePtr(row.GroupID),
			MemberIDs:        slices.Clone(row.MemberIDs),
			ResolvedAddress:  clonePtr(row.ResolvedAddress),
			PhotoPaths:       slices.Clone(row.PhotoPaths),
		},
	}, nil
}

// TaxonRows converts taxa to archive rows.
func TaxonRows(taxa []*Taxon) []archive.TaxonRow {
	rows := make([]archive.TaxonRow, 0, len(taxa))
	for _, t := range taxa {
		rows = append(rows, archive.TaxonRow{ID: t.ID, Name: t.Name})
	}
	return rows
}

// taxonRows picks the document holding kind.
func taxonRows(docs *archive.Documents, kind TaxonKind) []archive.TaxonRow {
	switch kind {
	case KindLabel:
		return docs.Labels
	case KindGroup:
		return docs.Groups
	case KindMember:
		return docs.Members
	}
	return nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
