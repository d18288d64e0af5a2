package archive

import (
	"path/filepath"
)

// SchemaVersion is the only manifest version this build writes and reads.
const SchemaVersion = "1.0"

// Container layout.
const (
	ManifestFile = "manifest.json"
	VisitsFile   = "visits.json"
	LabelsFile   = "labels.json"
	GroupsFile   = "groups.json"
	MembersFile  = "members.json"
	PhotosDir    = "photos"
)

// Manifest is the archive header.
type Manifest struct {
	Version     string `json:"version"`
	AppVersion  string `json:"appVersion"`
	BackupDate  Date   `json:"backupDate"`
	VisitCount  int    `json:"visitCount"`
	LabelCount  int    `json:"labelCount"`
	GroupCount  int    `json:"groupCount"`
	MemberCount int    `json:"memberCount"`
	PhotoCount  int    `json:"photoCount"`
}

// VisitRow is one element of visits.json: a visit flattened together with
// its details and integrity blob.
type VisitRow struct {
	ID                    string   `json:"id"`
	TimestampUTC          Date     `json:"timestampUTC"`
	Latitude              float64  `json:"latitude"`
	Longitude             float64  `json:"longitude"`
	HorizontalAccuracy    *float64 `json:"horizontalAccuracy,omitempty"`
	IsSimulatedBySoftware *bool    `json:"isSimulatedBySoftware,omitempty"`
	IsProducedByAccessory *bool    `json:"isProducedByAccessory,omitempty"`

	IntegrityAlgo            string `json:"integrityAlgo"`
	IntegritySignatureBase64 string `json:"integritySignatureBase64"`
	IntegrityPublicKeyBase64 string `json:"integrityPublicKeyBase64"`
	IntegrityPayloadHashHex  string `json:"integrityPayloadHashHex"`
	IntegrityCreatedAtUTC    Date   `json:"integrityCreatedAtUTC"`

	Title            *string  `json:"title,omitempty"`
	FacilityName     *string  `json:"facilityName,omitempty"`
	FacilityAddress  *string  `json:"facilityAddress,omitempty"`
	FacilityCategory *string  `json:"facilityCategory,omitempty"`
	Comment          *string  `json:"comment,omitempty"`
	LabelIDs         []string `json:"labelIds"`
	GroupID          *string  `json:"groupId,omitempty"`
	MemberIDs        []string `json:"memberIds"`
	ResolvedAddress  *string  `json:"resolvedAddress,omitempty"`
	PhotoPaths       []string `json:"photoPaths"`
}

// TaxonRow is one element of labels.json, groups.json or members.json.
type TaxonRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Documents holds the four JSON documents of an archive.
type Documents struct {
	Visits  []VisitRow
	Labels  []TaxonRow
	Groups  []TaxonRow
	Members []TaxonRow

	// Strategies records, per document file, which date strategy decoded it.
	// Only set by DecodeDocuments.
	Strategies map[string]string
}

// Snapshot is everything an export writes.
type Snapshot struct {
	Documents
	// PhotoNames are the distinct photo file names referenced by Visits, in
	// first-seen order.
	PhotoNames []string
}

// NewSnapshot builds a snapshot and collects the photo names its visits
// reference.
func NewSnapshot(docs Documents) *Snapshot {
	return &Snapshot{Documents: docs, PhotoNames: PhotoNames(docs.Visits)}
}

// PhotoNames returns the distinct base names of every photo path referenced
// by rows, in first-seen order. Photos are stored flat, so two paths sharing
// a base name refer to the same file.
func PhotoNames(rows []VisitRow) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, row := range rows {
		for _, p := range row.PhotoPaths {
			name := PhotoName(p)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// PhotoName maps a stored photo path to its file name in the container.
func PhotoName(path string) string {
	name := filepath.Base(filepath.FromSlash(path))
	switch name {
	case ".", "..", string(filepath.Separator):
		return ""
	}
	return name
}
