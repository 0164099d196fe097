// Package ledger persists the mutable curation state: match decisions and
// free-form notes, keyed by annotation. The source tables themselves are never
// written here.
package ledger

import (
	"fmt"
	"strconv"
	"time"
)

// NoMatchSentinel is the stored card_id value recording a deliberate decision
// that no project card fits the annotation.
const NoMatchSentinel = "no_match"

// Match is one row of the matches table. CardID is text so the no-match
// sentinel and real card identifiers share a column.
type Match struct {
	AnnotID   int64     `gorm:"column:annot_id;primaryKey"`
	CardID    string    `gorm:"column:card_id;not null;index"`
	APIName   string    `gorm:"column:api_name"`
	PadNum    int64     `gorm:"column:pad_num"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the GORM default.
func (Match) TableName() string {
	return "matches"
}

// Value decodes the stored card_id column.
func (m *Match) Value() (MatchValue, error) {
	return ParseStoredCard(m.CardID)
}

// Note is one row of the notes table.
type Note struct {
	AnnotID   int64     `gorm:"column:annot_id;primaryKey"`
	NoteText  string    `gorm:"column:note_text;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName overrides the GORM default.
func (Note) TableName() string {
	return "notes"
}

type matchKind int

const (
	kindUnmatched matchKind = iota
	kindMatched
	kindNoMatch
)

// MatchValue is the decision recorded for one annotation: still unmatched,
// matched to a specific card, or deliberately marked as having no match.
type MatchValue struct {
	kind   matchKind
	cardID int64
}

// Unmatched reports the absence of a decision. Setting it removes any
// previously stored row.
func Unmatched() MatchValue {
	return MatchValue{kind: kindUnmatched}
}

// MatchedCard records a match to the given project card.
func MatchedCard(cardID int64) MatchValue {
	return MatchValue{kind: kindMatched, cardID: cardID}
}

// NoMatch records the deliberate no-match decision.
func NoMatch() MatchValue {
	return MatchValue{kind: kindNoMatch}
}

// IsUnmatched reports whether no decision is recorded.
func (v MatchValue) IsUnmatched() bool {
	return v.kind == kindUnmatched
}

// IsNoMatch reports whether the no-match decision is recorded.
func (v MatchValue) IsNoMatch() bool {
	return v.kind == kindNoMatch
}

// CardID returns the matched card and true, or zero and false for the other
// two states.
func (v MatchValue) CardID() (int64, bool) {
	if v.kind != kindMatched {
		return 0, false
	}
	return v.cardID, true
}

// StoredCard renders the card_id column value. Only valid for decided values.
func (v MatchValue) StoredCard() string {
	switch v.kind {
	case kindMatched:
		return strconv.FormatInt(v.cardID, 10)
	case kindNoMatch:
		return NoMatchSentinel
	default:
		return ""
	}
}

func (v MatchValue) String() string {
	switch v.kind {
	case kindMatched:
		return fmt.Sprintf("card %d", v.cardID)
	case kindNoMatch:
		return NoMatchSentinel
	default:
		return "unmatched"
	}
}

// ParseStoredCard decodes a card_id column value back into a MatchValue.
func ParseStoredCard(stored string) (MatchValue, error) {
	if stored == NoMatchSentinel {
		return NoMatch(), nil
	}
	cardID, err := strconv.ParseInt(stored, 10, 64)
	if err != nil {
		return Unmatched(), fmt.Errorf("invalid stored card_id %q: %w", stored, err)
	}
	return MatchedCard(cardID), nil
}
