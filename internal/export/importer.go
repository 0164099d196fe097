package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/tphakala/padmatch/internal/errors"
	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/records"
)

// ImportSummary reports what an import run did.
type ImportSummary struct {
	MatchesApplied int      `json:"matches_applied"`
	NotesApplied   int      `json:"notes_applied"`
	Skipped        int      `json:"skipped"`
	Problems       []string `json:"problems,omitempty"`
}

// Importer replays match decisions and notes from a previously generated
// export file into the ledger. Rows that no longer validate against the
// current source tables are skipped and reported, never applied.
type Importer struct {
	store  *records.Store
	ledger ledger.Store
	logger *slog.Logger
}

// NewImporter creates an importer over the live store and ledger.
func NewImporter(store *records.Store, ledgerStore ledger.Store, logger *slog.Logger) *Importer {
	return &Importer{store: store, ledger: ledgerStore, logger: logger}
}

// Run reads the export file and applies every valid decision. Existing ledger
// rows for the same annotations are overwritten; annotations absent from the
// file are left untouched.
func (imp *Importer) Run(path string) (*ImportSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading import header: %w", err)).
			Component("export").
			Category(errors.CategoryFileParsing).
			Context("path", path).
			Build()
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	for _, required := range []string{"annot_id", "matched_id"} {
		if _, ok := columns[required]; !ok {
			return nil, errors.Newf("import file missing column %q", required).
				Component("export").
				Category(errors.CategoryImport).
				Context("path", path).
				Build()
		}
	}

	cell := func(record []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	summary := &ImportSummary{}
	line := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, errors.New(fmt.Errorf("reading import line %d: %w", line, err)).
				Component("export").
				Category(errors.CategoryFileParsing).
				Context("path", path).
				Build()
		}
		imp.applyRow(summary, line, cell(record, "annot_id"),
			cell(record, "matched_id"), cell(record, "notes"))
	}

	if imp.logger != nil {
		imp.logger.Info("import finished",
			"path", path,
			"matches_applied", summary.MatchesApplied,
			"notes_applied", summary.NotesApplied,
			"skipped", summary.Skipped)
	}
	return summary, nil
}

func (imp *Importer) applyRow(summary *ImportSummary, line int, annotText, matchedText, noteText string) {
	annotID, err := strconv.ParseInt(annotText, 10, 64)
	if err != nil {
		imp.skip(summary, line, fmt.Sprintf("invalid annot_id %q", annotText))
		return
	}
	annot, ok := imp.store.AnnotationByID(annotID)
	if !ok {
		imp.skip(summary, line, fmt.Sprintf("unknown annot_id %d", annotID))
		return
	}

	if matchedText != "" {
		value, err := ledger.ParseStoredCard(matchedText)
		if err != nil {
			imp.skip(summary, line, fmt.Sprintf("invalid matched_id %q", matchedText))
			return
		}
		if cardID, matched := value.CardID(); matched {
			card, ok := imp.store.CardByID(cardID)
			if !ok {
				imp.skip(summary, line, fmt.Sprintf("unknown matched_id %d", cardID))
				return
			}
			if card.SampleID != annot.SampleID {
				imp.skip(summary, line, fmt.Sprintf(
					"card %d belongs to PAD %d, annotation %d is PAD %d",
					cardID, card.SampleID, annotID, annot.SampleID))
				return
			}
		}
		if err := imp.ledger.SetMatch(annotID, value, annot.APIName, annot.SampleID); err != nil {
			imp.skip(summary, line, fmt.Sprintf("annotation %d: %v", annotID, err))
			return
		}
		summary.MatchesApplied++
	}

	if noteText != "" {
		if err := imp.ledger.SetNote(annotID, noteText); err != nil {
			imp.skip(summary, line, fmt.Sprintf("annotation %d note: %v", annotID, err))
			return
		}
		summary.NotesApplied++
	}
}

func (imp *Importer) skip(summary *ImportSummary, line int, reason string) {
	summary.Skipped++
	summary.Problems = append(summary.Problems, fmt.Sprintf("line %d: %s", line, reason))
	if imp.logger != nil {
		imp.logger.Warn("import row skipped", "line", line, "reason", reason)
	}
}
