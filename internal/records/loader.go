package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/tphakala/padmatch/internal/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Column headers of the annotations table. The descriptive headers carry the
// annotators' spreadsheet wording and must match exactly.
const (
	colAnnotID     = "annot_id"
	colPadNum      = "PAD#"
	colCamera      = "Camera"
	colLighting    = "Lighting (lightbox, benchtop, benchtop dark)"
	colBackground  = "black/white background"
	colAPI         = "API"
	colSample      = "Sample"
	colMgConc      = "mg concentration (w/w mg/mg or w/v mg/mL)"
	colPctConc     = "% Conc"
	colMissingCard = "missing_card"
)

// Column headers of the project cards table.
const (
	colCardID         = "id"
	colSampleID       = "sample_id"
	colSampleName     = "sample_name"
	colQuantity       = "quantity"
	colCameraType     = "camera_type_1"
	colDeleted        = "deleted"
	colDateOfCreation = "date_of_creation"
	colFileLocation   = "processed_file_location"
)

// openCSV opens a CSV file for reading, tolerating a UTF-8 byte order mark.
// Spreadsheet tools routinely prepend one.
func openCSV(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	decoder := unicode.UTF8BOM.NewDecoder()
	return &transformReadCloser{
		Reader: transform.NewReader(f, decoder),
		closer: f,
	}, nil
}

type transformReadCloser struct {
	io.Reader
	closer io.Closer
}

func (t *transformReadCloser) Close() error {
	return t.closer.Close()
}

// headerIndex maps column names to their positions, so column order in the
// source files does not matter.
type headerIndex map[string]int

func indexHeader(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	return idx
}

// get returns the trimmed cell value for a column, or "" if the column is absent.
func (h headerIndex) get(record []string, column string) string {
	i, ok := h[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// require fails when a mandatory column is missing from the header.
func (h headerIndex) require(columns ...string) error {
	for _, column := range columns {
		if _, ok := h[column]; !ok {
			return errors.Newf("required column %q missing from header", column).
				Category(errors.CategoryFileParsing).
				Build()
		}
	}
	return nil
}

// parseID parses an integer identifier, accepting the float renderings
// ("42.0") that spreadsheet round-trips produce.
func parseID(value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty identifier")
	}
	if id, err := strconv.ParseInt(value, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer identifier: %q", value)
	}
	id := int64(f)
	if float64(id) != f {
		return 0, fmt.Errorf("identifier has a fractional component: %q", value)
	}
	return id, nil
}

// parseBool parses the truthy spellings pandas writes for flag columns.
func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "1.0", "yes":
		return true
	default:
		return false
	}
}

// LoadAnnotations reads the student annotations table from a CSV file.
func LoadAnnotations(path string) ([]AnnotationRow, error) {
	rc, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading annotations header: %w", err)).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	idx := indexHeader(header)
	if err := idx.require(colAnnotID, colPadNum, colAPI); err != nil {
		return nil, err
	}

	var rows []AnnotationRow
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.New(fmt.Errorf("reading annotations line %d: %w", line, err)).
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}

		annotID, err := parseID(idx.get(record, colAnnotID))
		if err != nil {
			return nil, errors.New(fmt.Errorf("annotations line %d: annot_id: %w", line, err)).
				Category(errors.CategoryFileParsing).
				Build()
		}
		sampleID, err := parseID(idx.get(record, colPadNum))
		if err != nil {
			return nil, errors.New(fmt.Errorf("annotations line %d: PAD#: %w", line, err)).
				Category(errors.CategoryFileParsing).
				Build()
		}

		rows = append(rows, AnnotationRow{
			AnnotID:         annotID,
			SampleID:        sampleID,
			Camera:          idx.get(record, colCamera),
			Lighting:        idx.get(record, colLighting),
			Background:      idx.get(record, colBackground),
			APIName:         idx.get(record, colAPI),
			Sample:          idx.get(record, colSample),
			MgConcentration: idx.get(record, colMgConc),
			PctConc:         idx.get(record, colPctConc),
			MissingCard:     parseBool(idx.get(record, colMissingCard)),
		})
	}

	return rows, nil
}

// LoadProjectCards reads the project cards table from a CSV file.
func LoadProjectCards(path string) ([]ProjectCardRow, error) {
	rc, err := openCSV(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading project cards header: %w", err)).
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}
	idx := indexHeader(header)
	if err := idx.require(colCardID, colSampleID); err != nil {
		return nil, err
	}

	var rows []ProjectCardRow
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.New(fmt.Errorf("reading project cards line %d: %w", line, err)).
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}

		cardID, err := parseID(idx.get(record, colCardID))
		if err != nil {
			return nil, errors.New(fmt.Errorf("project cards line %d: id: %w", line, err)).
				Category(errors.CategoryFileParsing).
				Build()
		}
		sampleID, err := parseID(idx.get(record, colSampleID))
		if err != nil {
			return nil, errors.New(fmt.Errorf("project cards line %d: sample_id: %w", line, err)).
				Category(errors.CategoryFileParsing).
				Build()
		}

		rows = append(rows, ProjectCardRow{
			CardID:         cardID,
			SampleID:       sampleID,
			SampleName:     idx.get(record, colSampleName),
			Quantity:       idx.get(record, colQuantity),
			CameraType:     idx.get(record, colCameraType),
			Deleted:        idx.get(record, colDeleted),
			DateOfCreation: idx.get(record, colDateOfCreation),
			FileLocation:   idx.get(record, colFileLocation),
		})
	}

	return rows, nil
}
