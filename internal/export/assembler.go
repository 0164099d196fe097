// Package export builds the matched-export table: every annotation row joined
// with its match decision, the matched card's fields, and any note. The export
// is a pure projection of the source tables and the ledger, so regenerating it
// after restoring the same ledger state yields the same table.
package export

import (
	"log/slog"
	"strconv"

	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/records"
)

// Column order of the generated table. The leading columns reproduce the
// annotations table; the matched_ columns carry the joined card.
var Header = []string{
	"annot_id",
	"PAD#",
	"Camera",
	"Lighting (lightbox, benchtop, benchtop dark)",
	"black/white background",
	"API",
	"Sample",
	"mg concentration (w/w mg/mg or w/v mg/mL)",
	"% Conc",
	"missing_card",
	"matched_id",
	"matched_sample_id",
	"matched_sample_name",
	"matched_quantity",
	"matched_camera_type_1",
	"matched_deleted",
	"matched_date_of_creation",
	"matched_url",
	"notes",
}

// Assembler joins the record store with ledger state.
type Assembler struct {
	store         *records.Store
	publicBaseURL string
	logger        *slog.Logger
}

// NewAssembler creates an assembler. The base URL is prepended to each matched
// card's processed file location to form matched_url.
func NewAssembler(store *records.Store, publicBaseURL string, logger *slog.Logger) *Assembler {
	return &Assembler{store: store, publicBaseURL: publicBaseURL, logger: logger}
}

// Assemble produces the export rows for every annotation in source order,
// including rows flagged missing_card.
func (a *Assembler) Assemble(matches []ledger.Match, notes []ledger.Note) ([][]string, error) {
	matchByAnnot := make(map[int64]ledger.Match, len(matches))
	for i := range matches {
		matchByAnnot[matches[i].AnnotID] = matches[i]
	}
	noteByAnnot := make(map[int64]string, len(notes))
	for i := range notes {
		noteByAnnot[notes[i].AnnotID] = notes[i].NoteText
	}

	annotations := a.store.Annotations()
	rows := make([][]string, 0, len(annotations))
	for i := range annotations {
		annot := &annotations[i]
		row := a.annotationColumns(annot)
		row = append(row, a.matchedColumns(annot, matchByAnnot)...)
		row = append(row, noteByAnnot[annot.AnnotID])
		rows = append(rows, row)
	}
	return rows, nil
}

func (a *Assembler) annotationColumns(annot *records.AnnotationRow) []string {
	missing := "False"
	if annot.MissingCard {
		missing = "True"
	}
	return []string{
		strconv.FormatInt(annot.AnnotID, 10),
		strconv.FormatInt(annot.SampleID, 10),
		annot.Camera,
		annot.Lighting,
		annot.Background,
		annot.APIName,
		annot.Sample,
		annot.MgConcentration,
		annot.PctConc,
		missing,
	}
}

// matchedColumns renders matched_id through matched_url. Undecided
// annotations get empty columns; a no-match decision fills only matched_id
// with the sentinel.
func (a *Assembler) matchedColumns(annot *records.AnnotationRow, matchByAnnot map[int64]ledger.Match) []string {
	empty := []string{"", "", "", "", "", "", "", ""}

	match, found := matchByAnnot[annot.AnnotID]
	if !found {
		return empty
	}

	value, err := match.Value()
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("skipping undecodable match value",
				"annot_id", annot.AnnotID, "card_id", match.CardID)
		}
		return empty
	}
	if value.IsNoMatch() {
		return []string{ledger.NoMatchSentinel, "", "", "", "", "", "", ""}
	}

	cardID, _ := value.CardID()
	card, ok := a.store.CardByID(cardID)
	if !ok {
		// The ledger can reference a card dropped from a newer cards table.
		// Keep the id so the decision is still visible.
		if a.logger != nil {
			a.logger.Warn("matched card missing from project cards table",
				"annot_id", annot.AnnotID, "card_id", cardID)
		}
		return []string{strconv.FormatInt(cardID, 10), "", "", "", "", "", "", ""}
	}

	url := ""
	if card.FileLocation != "" {
		url = a.publicBaseURL + card.FileLocation
	}
	return []string{
		strconv.FormatInt(cardID, 10),
		strconv.FormatInt(card.SampleID, 10),
		card.SampleName,
		card.Quantity,
		card.CameraType,
		card.Deleted,
		card.DateOfCreation,
		url,
	}
}
