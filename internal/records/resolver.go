package records

import "strings"

// Resolver ranks the project cards eligible for an annotation. Candidates are
// always every card sharing the annotation's PAD number; ranking only reorders
// them, it never filters.
type Resolver struct {
	store   *Store
	aliases map[string]string // normalized device nickname -> card camera_type
}

// Candidate is one project card ranked for an annotation.
type Candidate struct {
	Card  ProjectCardRow
	Score int // 1 if the annotation's camera resolves to the card's camera_type
}

// NewResolver builds a resolver over the store using the configured device
// nickname aliases. Alias keys are matched case-insensitively.
func NewResolver(store *Store, cameraAliases map[string]string) *Resolver {
	aliases := make(map[string]string, len(cameraAliases))
	for nickname, cameraType := range cameraAliases {
		aliases[strings.ToLower(strings.TrimSpace(nickname))] = cameraType
	}
	return &Resolver{store: store, aliases: aliases}
}

// NormalizeCamera maps an annotator's device nickname to the camera_type
// vocabulary of the project cards. Unknown values pass through trimmed, so
// normalization is idempotent.
func (r *Resolver) NormalizeCamera(camera string) string {
	trimmed := strings.TrimSpace(camera)
	if trimmed == "" {
		return ""
	}
	if cameraType, ok := r.aliases[strings.ToLower(trimmed)]; ok {
		return cameraType
	}
	return trimmed
}

// Resolve returns the candidate cards for an annotation, camera matches
// first. Ties keep the source order of the cards table so repeated calls
// return an identical ordering.
func (r *Resolver) Resolve(annot AnnotationRow) []Candidate {
	cards := r.store.CardsForSample(annot.SampleID)
	if len(cards) == 0 {
		return nil
	}

	wanted := r.NormalizeCamera(annot.Camera)

	candidates := make([]Candidate, 0, len(cards))
	for _, card := range cards {
		if wanted != "" && r.NormalizeCamera(card.CameraType) == wanted {
			candidates = append(candidates, Candidate{Card: card, Score: 1})
		}
	}
	for _, card := range cards {
		if wanted == "" || r.NormalizeCamera(card.CameraType) != wanted {
			candidates = append(candidates, Candidate{Card: card, Score: 0})
		}
	}
	return candidates
}
