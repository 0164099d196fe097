package records

import (
	"log/slog"
	"sort"

	"github.com/tphakala/padmatch/internal/errors"
)

// Store is the immutable in-memory view of both source tables. It owns the
// rows for the process lifetime; everything handed out is a copy or a
// read-only slice that callers must not modify.
type Store struct {
	annotations []AnnotationRow
	cards       []ProjectCardRow

	annotByID     map[int64]int     // annot_id -> index into annotations
	cardByID      map[int64]int     // card_id -> index into cards
	cardsBySample map[int64][]int   // sample_id -> card indexes, source order
	groups        map[GroupKey][]int64 // PAD group -> member annot_ids, source order

	logger *slog.Logger
}

// NewStore builds the indexed view over the loaded tables. Duplicate primary
// keys are a data defect and fail the load.
func NewStore(annotations []AnnotationRow, cards []ProjectCardRow, logger *slog.Logger) (*Store, error) {
	s := &Store{
		annotations:   annotations,
		cards:         cards,
		annotByID:     make(map[int64]int, len(annotations)),
		cardByID:      make(map[int64]int, len(cards)),
		cardsBySample: make(map[int64][]int),
		groups:        make(map[GroupKey][]int64),
		logger:        logger,
	}

	for i := range cards {
		card := &cards[i]
		if _, dup := s.cardByID[card.CardID]; dup {
			return nil, errors.Newf("duplicate card_id %d in project cards", card.CardID).
				Category(errors.CategoryValidation).
				Build()
		}
		s.cardByID[card.CardID] = i
		s.cardsBySample[card.SampleID] = append(s.cardsBySample[card.SampleID], i)
	}

	for i := range annotations {
		annot := &annotations[i]
		if _, dup := s.annotByID[annot.AnnotID]; dup {
			return nil, errors.Newf("duplicate annot_id %d in annotations", annot.AnnotID).
				Category(errors.CategoryValidation).
				Build()
		}
		s.annotByID[annot.AnnotID] = i

		if annot.MissingCard {
			// Excluded from the matching workflow, still exported.
			continue
		}
		key := GroupKey{APIName: annot.APIName, SampleID: annot.SampleID}
		s.groups[key] = append(s.groups[key], annot.AnnotID)
	}

	s.verifyMissingCardFlags()

	return s, nil
}

// Load reads both source tables and builds the store in one call.
func Load(annotationsPath, projectCardsPath string, logger *slog.Logger) (*Store, error) {
	annotations, err := LoadAnnotations(annotationsPath)
	if err != nil {
		return nil, err
	}
	cards, err := LoadProjectCards(projectCardsPath)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(annotations, cards, logger)
	if err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("record store loaded",
			"annotations", len(annotations),
			"project_cards", len(cards),
			"pad_groups", len(store.groups))
	}
	return store, nil
}

// verifyMissingCardFlags recomputes the missing_card flag against the loaded
// cards and logs disagreements. The flag is precomputed upstream; a mismatch
// means the flagged file is stale relative to the cards table.
func (s *Store) verifyMissingCardFlags() {
	stale := 0
	for i := range s.annotations {
		annot := &s.annotations[i]
		_, hasCards := s.cardsBySample[annot.SampleID]
		if annot.MissingCard == !hasCards {
			continue
		}
		stale++
		if s.logger != nil {
			s.logger.Warn("missing_card flag disagrees with project cards table",
				"annot_id", annot.AnnotID,
				"sample_id", annot.SampleID,
				"flag", annot.MissingCard,
				"cards_present", hasCards)
		}
	}
	if stale > 0 && s.logger != nil {
		s.logger.Warn("annotations file may be stale", "disagreements", stale)
	}
}

// Annotations returns all annotation rows in source order, including rows
// flagged missing_card.
func (s *Store) Annotations() []AnnotationRow {
	return s.annotations
}

// MatchableAnnotations returns the annotation rows eligible for matching.
func (s *Store) MatchableAnnotations() []AnnotationRow {
	rows := make([]AnnotationRow, 0, len(s.annotations))
	for i := range s.annotations {
		if !s.annotations[i].MissingCard {
			rows = append(rows, s.annotations[i])
		}
	}
	return rows
}

// AnnotationByID looks up a single annotation row.
func (s *Store) AnnotationByID(annotID int64) (AnnotationRow, bool) {
	i, ok := s.annotByID[annotID]
	if !ok {
		return AnnotationRow{}, false
	}
	return s.annotations[i], true
}

// Cards returns all project card rows in source order.
func (s *Store) Cards() []ProjectCardRow {
	return s.cards
}

// CardByID looks up a single project card.
func (s *Store) CardByID(cardID int64) (ProjectCardRow, bool) {
	i, ok := s.cardByID[cardID]
	if !ok {
		return ProjectCardRow{}, false
	}
	return s.cards[i], true
}

// CardsForSample returns the project cards sharing a sample_id, in source
// order. An unknown sample_id yields an empty slice, not an error.
func (s *Store) CardsForSample(sampleID int64) []ProjectCardRow {
	indexes := s.cardsBySample[sampleID]
	cards := make([]ProjectCardRow, 0, len(indexes))
	for _, i := range indexes {
		cards = append(cards, s.cards[i])
	}
	return cards
}

// GroupMembers returns the annot_ids of one PAD group in source order.
func (s *Store) GroupMembers(apiName string, sampleID int64) []int64 {
	return s.groups[GroupKey{APIName: apiName, SampleID: sampleID}]
}

// Groups returns every PAD group key. Order is unspecified.
func (s *Store) Groups() []GroupKey {
	keys := make([]GroupKey, 0, len(s.groups))
	for key := range s.groups {
		keys = append(keys, key)
	}
	return keys
}

// APINames returns the distinct API names of matchable annotations, sorted.
func (s *Store) APINames() []string {
	seen := make(map[string]struct{})
	for i := range s.annotations {
		annot := &s.annotations[i]
		if annot.MissingCard || annot.APIName == "" {
			continue
		}
		seen[annot.APIName] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SampleIDsForAPI returns the distinct PAD numbers of one API, sorted.
func (s *Store) SampleIDsForAPI(apiName string) []int64 {
	seen := make(map[int64]struct{})
	for key := range s.groups {
		if key.APIName == apiName {
			seen[key.SampleID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
