package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/records"
)

const (
	statsCacheKey = "stats"
	apisCacheKey  = "apis"
)

// StatsResponse is the dashboard summary.
type StatsResponse struct {
	TotalAnnotations int           `json:"total_annotations"`
	Matchable        int           `json:"matchable"`
	MissingCard      int           `json:"missing_card"`
	Decided          int64         `json:"decided"`
	Matched          int64         `json:"matched"`
	NoMatch          int64         `json:"no_match"`
	Notes            int64         `json:"notes"`
	TotalPADs        int           `json:"total_pads"`
	CompletedPADs    int           `json:"completed_pads"`
	APIs             []APIProgress `json:"apis"`
}

// APIProgress summarizes matching progress within one API.
type APIProgress struct {
	APIName       string `json:"api_name"`
	Annotations   int    `json:"annotations"`
	PADs          int    `json:"pads"`
	CompletedPADs int    `json:"completed_pads"`
	Decided       int64  `json:"decided"`
	Matched       int64  `json:"matched"`
	NoMatch       int64  `json:"no_match"`
	Complete      bool   `json:"complete"`
}

// GetStats serves the dashboard summary. The response is cached for the
// configured TTL and invalidated on every ledger write.
func (c *Controller) GetStats(ctx echo.Context) error {
	if cached, found := c.statsCache.Get(statsCacheKey); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	response, err := c.buildStats()
	if err != nil {
		return c.HandleError(ctx, err, "failed to compute statistics", http.StatusInternalServerError)
	}

	c.statsCache.SetDefault(statsCacheKey, response)
	c.updateDecisionGauges(response)
	return ctx.JSON(http.StatusOK, response)
}

func (c *Controller) buildStats() (*StatsResponse, error) {
	ledgerStats, err := c.Ledger.Stats()
	if err != nil {
		return nil, err
	}

	annotations := c.Store.Annotations()
	response := &StatsResponse{
		TotalAnnotations: len(annotations),
		Decided:          ledgerStats.TotalMatches,
		Matched:          ledgerStats.Matched,
		NoMatch:          ledgerStats.NoMatch,
		Notes:            ledgerStats.TotalNotes,
	}
	for i := range annotations {
		if annotations[i].MissingCard {
			response.MissingCard++
		} else {
			response.Matchable++
		}
	}

	perAPI := make(map[string]ledger.APIStats, len(ledgerStats.PerAPI))
	for _, s := range ledgerStats.PerAPI {
		perAPI[s.APIName] = s
	}

	for _, apiName := range c.Store.APINames() {
		progress := APIProgress{APIName: apiName}
		sampleIDs := c.Store.SampleIDsForAPI(apiName)
		progress.PADs = len(sampleIDs)
		for _, sampleID := range sampleIDs {
			complete, err := c.Ledger.IsGroupComplete(c.Store.GroupMembers(apiName, sampleID))
			if err != nil {
				return nil, err
			}
			if complete {
				progress.CompletedPADs++
			}
		}
		for i := range annotations {
			if !annotations[i].MissingCard && annotations[i].APIName == apiName {
				progress.Annotations++
			}
		}
		if s, ok := perAPI[apiName]; ok {
			progress.Matched = s.Matched
			progress.NoMatch = s.NoMatch
			progress.Decided = s.Matched + s.NoMatch
		}
		progress.Complete = progress.Decided == int64(progress.Annotations)
		response.TotalPADs += progress.PADs
		response.CompletedPADs += progress.CompletedPADs
		response.APIs = append(response.APIs, progress)
	}
	return response, nil
}

func (c *Controller) updateDecisionGauges(stats *StatsResponse) {
	if c.metrics != nil && c.metrics.Ledger != nil {
		c.metrics.Ledger.SetDecisionCounts(stats.Matched, stats.NoMatch)
	}
}

// GetAPIs lists the APIs with per-API progress.
func (c *Controller) GetAPIs(ctx echo.Context) error {
	if cached, found := c.statsCache.Get(apisCacheKey); found {
		return ctx.JSON(http.StatusOK, cached)
	}
	stats, err := c.buildStats()
	if err != nil {
		return c.HandleError(ctx, err, "failed to compute statistics", http.StatusInternalServerError)
	}
	c.statsCache.SetDefault(apisCacheKey, stats.APIs)
	return ctx.JSON(http.StatusOK, stats.APIs)
}

// PAD list status values.
const (
	padStatusNotStarted = "not_started"
	padStatusPartial    = "partial"
	padStatusComplete   = "complete"
)

// PADSummary is one PAD group in an API's PAD list.
type PADSummary struct {
	SampleID    int64  `json:"sample_id"`
	Sample      string `json:"sample"`
	Annotations int    `json:"annotations"`
	Decided     int64  `json:"decided"`
	Status      string `json:"status"`
	Complete    bool   `json:"complete"`
}

// GetPADList lists the PAD groups of one API with completeness.
func (c *Controller) GetPADList(ctx echo.Context) error {
	apiName := ctx.Param("api")
	sampleIDs := c.Store.SampleIDsForAPI(apiName)
	if len(sampleIDs) == 0 {
		return c.HandleError(ctx, fmt.Errorf("unknown API %q", apiName),
			"API not found", http.StatusNotFound)
	}

	summaries := make([]PADSummary, 0, len(sampleIDs))
	for _, sampleID := range sampleIDs {
		members := c.Store.GroupMembers(apiName, sampleID)
		summary := PADSummary{SampleID: sampleID, Annotations: len(members)}
		if cards := c.Store.CardsForSample(sampleID); len(cards) > 0 {
			summary.Sample = cards[0].SampleName
		}
		for _, annotID := range members {
			_, found, err := c.Ledger.GetMatch(annotID)
			if err != nil {
				return c.HandleError(ctx, err, "failed to read ledger", http.StatusInternalServerError)
			}
			if found {
				summary.Decided++
			}
		}
		summary.Complete = summary.Decided == int64(summary.Annotations)
		switch {
		case summary.Complete:
			summary.Status = padStatusComplete
		case summary.Decided == 0:
			summary.Status = padStatusNotStarted
		default:
			summary.Status = padStatusPartial
		}
		summaries = append(summaries, summary)
	}
	return ctx.JSON(http.StatusOK, summaries)
}

// CandidateResponse is one ranked project card offered for an annotation.
type CandidateResponse struct {
	CardID         int64  `json:"card_id"`
	SampleID       int64  `json:"sample_id"`
	SampleName     string `json:"sample_name"`
	Quantity       string `json:"quantity"`
	CameraType     string `json:"camera_type"`
	DateOfCreation string `json:"date_of_creation"`
	Score          int    `json:"score"`
	UsedBy         *int64 `json:"used_by,omitempty"`
}

// AnnotationResponse is one annotation row in a PAD group payload.
type AnnotationResponse struct {
	AnnotID         int64               `json:"annot_id"`
	Camera          string              `json:"camera"`
	Lighting        string              `json:"lighting"`
	Background      string              `json:"background"`
	Sample          string              `json:"sample"`
	MgConcentration string              `json:"mg_concentration"`
	PctConc         string              `json:"pct_conc"`
	MatchedCardID   *string             `json:"matched_card_id"`
	Note            string              `json:"note,omitempty"`
	Candidates      []CandidateResponse `json:"candidates"`
}

// PADGroupResponse is the full payload for one PAD group's matching page.
type PADGroupResponse struct {
	APIName     string               `json:"api_name"`
	SampleID    int64                `json:"sample_id"`
	Complete    bool                 `json:"complete"`
	Annotations []AnnotationResponse `json:"annotations"`
}

// GetPADGroup serves the matching page payload for one PAD group. Claim state
// is read fresh from the ledger so a card claimed moments ago shows as used.
func (c *Controller) GetPADGroup(ctx echo.Context) error {
	apiName := ctx.Param("api")
	sampleID, err := strconv.ParseInt(ctx.Param("pad"), 10, 64)
	if err != nil {
		return c.HandleError(ctx, err, "invalid PAD number", http.StatusBadRequest)
	}

	members := c.Store.GroupMembers(apiName, sampleID)
	if len(members) == 0 {
		return c.HandleError(ctx, fmt.Errorf("no annotations for API %q PAD %d", apiName, sampleID),
			"PAD group not found", http.StatusNotFound)
	}

	claimed, err := c.Ledger.ClaimedCards()
	if err != nil {
		return c.HandleError(ctx, err, "failed to read ledger", http.StatusInternalServerError)
	}

	response := PADGroupResponse{APIName: apiName, SampleID: sampleID}
	decided := 0
	for _, annotID := range members {
		annot, ok := c.Store.AnnotationByID(annotID)
		if !ok {
			continue
		}
		row := AnnotationResponse{
			AnnotID:         annot.AnnotID,
			Camera:          annot.Camera,
			Lighting:        annot.Lighting,
			Background:      annot.Background,
			Sample:          annot.Sample,
			MgConcentration: annot.MgConcentration,
			PctConc:         annot.PctConc,
		}

		match, found, err := c.Ledger.GetMatch(annotID)
		if err != nil {
			return c.HandleError(ctx, err, "failed to read ledger", http.StatusInternalServerError)
		}
		if found {
			cardID := match.CardID
			row.MatchedCardID = &cardID
			decided++
		}

		note, found, err := c.Ledger.GetNote(annotID)
		if err != nil {
			return c.HandleError(ctx, err, "failed to read ledger", http.StatusInternalServerError)
		}
		if found {
			row.Note = note.NoteText
		}

		row.Candidates = c.candidateResponses(annot, claimed)
		response.Annotations = append(response.Annotations, row)
	}
	response.Complete = decided == len(response.Annotations)

	return ctx.JSON(http.StatusOK, response)
}

func (c *Controller) candidateResponses(annot records.AnnotationRow, claimed map[int64]int64) []CandidateResponse {
	candidates := c.Resolver.Resolve(annot)
	responses := make([]CandidateResponse, 0, len(candidates))
	for _, candidate := range candidates {
		response := CandidateResponse{
			CardID:         candidate.Card.CardID,
			SampleID:       candidate.Card.SampleID,
			SampleName:     candidate.Card.SampleName,
			Quantity:       candidate.Card.Quantity,
			CameraType:     candidate.Card.CameraType,
			DateOfCreation: candidate.Card.DateOfCreation,
			Score:          candidate.Score,
		}
		if annotID, used := claimed[candidate.Card.CardID]; used {
			usedBy := annotID
			response.UsedBy = &usedBy
		}
		responses = append(responses, response)
	}
	return responses
}
