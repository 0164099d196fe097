// Package records provides the read-only in-memory view of the source tables:
// student annotations and project cards. Both tables are loaded once per
// process lifetime and never mutated afterwards.
package records

// AnnotationRow is a single student annotation. Immutable once loaded.
//
// Numeric descriptor columns are kept as raw text so exports reproduce the
// source formatting byte for byte.
type AnnotationRow struct {
	AnnotID         int64  // unique integer key
	SampleID        int64  // PAD#, foreign key into ProjectCardRow.SampleID
	Camera          string // device nickname as written by the annotator
	Lighting        string
	Background      string
	APIName         string // active pharmaceutical ingredient
	Sample          string
	MgConcentration string // raw text, preserved verbatim
	PctConc         string // raw text, preserved verbatim
	MissingCard     bool   // true if no project card shares this SampleID
}

// ProjectCardRow is a single project card. Immutable reference data.
type ProjectCardRow struct {
	CardID         int64 // unique integer key
	SampleID       int64
	SampleName     string
	Quantity       string
	CameraType     string // camera_type_1 in the source table
	Deleted        string // informational flag, passed through to exports verbatim
	DateOfCreation string
	FileLocation   string // processed_file_location, rewritten to a public URL on export
}

// GroupKey identifies a PAD group: the annotation rows sharing (APIName, SampleID).
type GroupKey struct {
	APIName  string
	SampleID int64
}
