package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/ledger"
)

// MatchRequest is the body of a match write. CardID is null to clear the
// decision, the string "no_match" for a deliberate no-match, or a card number.
type MatchRequest struct {
	AnnotID int64           `json:"annot_id"`
	CardID  json.RawMessage `json:"card_id"`
}

// MatchResponse confirms a stored decision.
type MatchResponse struct {
	AnnotID       int64  `json:"annot_id"`
	CardID        string `json:"card_id,omitempty"`
	GroupComplete bool   `json:"group_complete"`
}

// SaveMatch stores one match decision. A card already claimed by another
// annotation yields 409 and leaves the ledger untouched.
func (c *Controller) SaveMatch(ctx echo.Context) error {
	var request MatchRequest
	if err := ctx.Bind(&request); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	annot, ok := c.Store.AnnotationByID(request.AnnotID)
	if !ok {
		return c.HandleError(ctx, fmt.Errorf("unknown annotation %d", request.AnnotID),
			"annotation not found", http.StatusNotFound)
	}
	if annot.MissingCard {
		return c.HandleError(ctx, fmt.Errorf("annotation %d has no project cards", annot.AnnotID),
			"annotation is excluded from matching", http.StatusUnprocessableEntity)
	}

	value, err := c.parseCardValue(request.CardID, annot.SampleID)
	if err != nil {
		return c.HandleError(ctx, err, "invalid card_id", http.StatusUnprocessableEntity)
	}

	start := time.Now()
	err = c.Ledger.SetMatch(annot.AnnotID, value, annot.APIName, annot.SampleID)
	if err != nil {
		if errors.Is(err, ledger.ErrCardAlreadyClaimed) {
			c.recordMatchWrite("conflict", start)
			return c.HandleError(ctx, err, "card already claimed", http.StatusConflict)
		}
		c.recordMatchWrite("error", start)
		return c.HandleError(ctx, err, "failed to store match", http.StatusInternalServerError)
	}
	c.recordMatchWrite(matchResult(value), start)
	c.invalidateCaches()

	complete, err := c.groupComplete(annot.APIName, annot.SampleID)
	if err != nil {
		return c.HandleError(ctx, err, "failed to read ledger", http.StatusInternalServerError)
	}
	if complete && !value.IsUnmatched() {
		c.snapshotAfterCompletion(annot.APIName, annot.SampleID)
	}

	return ctx.JSON(http.StatusOK, MatchResponse{
		AnnotID:       annot.AnnotID,
		CardID:        value.StoredCard(),
		GroupComplete: complete,
	})
}

// parseCardValue decodes the polymorphic card_id field and validates a card
// claim against the annotation's PAD.
func (c *Controller) parseCardValue(raw json.RawMessage, sampleID int64) (ledger.MatchValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return ledger.Unmatched(), nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == ledger.NoMatchSentinel {
			return ledger.NoMatch(), nil
		}
		return ledger.Unmatched(), fmt.Errorf("unsupported card_id value %q", asString)
	}

	var cardID int64
	if err := json.Unmarshal(raw, &cardID); err != nil {
		return ledger.Unmatched(), fmt.Errorf("card_id must be null, %q, or a card number", ledger.NoMatchSentinel)
	}

	card, ok := c.Store.CardByID(cardID)
	if !ok {
		return ledger.Unmatched(), fmt.Errorf("unknown card %d", cardID)
	}
	if card.SampleID != sampleID {
		return ledger.Unmatched(), fmt.Errorf("card %d belongs to PAD %d", cardID, card.SampleID)
	}
	return ledger.MatchedCard(cardID), nil
}

func matchResult(value ledger.MatchValue) string {
	switch {
	case value.IsUnmatched():
		return "unmatched"
	case value.IsNoMatch():
		return "no_match"
	default:
		return "matched"
	}
}

func (c *Controller) recordMatchWrite(result string, start time.Time) {
	if c.metrics != nil && c.metrics.Ledger != nil {
		c.metrics.Ledger.RecordMatchWrite(result, time.Since(start))
	}
}

func (c *Controller) groupComplete(apiName string, sampleID int64) (bool, error) {
	return c.Ledger.IsGroupComplete(c.Store.GroupMembers(apiName, sampleID))
}

// snapshotAfterCompletion takes the automatic snapshot that marks a PAD group
// reaching a fully decided state. Failure is logged, never surfaced to the
// match write.
func (c *Controller) snapshotAfterCompletion(apiName string, sampleID int64) {
	if c.Backups == nil || !c.Backups.Enabled() {
		return
	}
	start := time.Now()
	_, err := c.Backups.Snapshot(context.Background(), backup.CategoryAuto)
	c.recordSnapshot(backup.CategoryAuto, err, start)
	if err != nil {
		c.apiLogger.Warn("automatic snapshot failed",
			"api", apiName, "pad", sampleID, "error", err)
		return
	}
	c.apiLogger.Info("automatic snapshot after group completion",
		"api", apiName, "pad", sampleID)
}

func (c *Controller) recordSnapshot(category string, err error, start time.Time) {
	if c.metrics == nil || c.metrics.Pipeline == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.Pipeline.RecordSnapshot(category, status, time.Since(start))
}

// NoteRequest is the body of a note write. Empty text removes the note.
type NoteRequest struct {
	AnnotID int64  `json:"annot_id"`
	Note    string `json:"note"`
}

// SaveNote upserts the note for one annotation.
func (c *Controller) SaveNote(ctx echo.Context) error {
	var request NoteRequest
	if err := ctx.Bind(&request); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	if _, ok := c.Store.AnnotationByID(request.AnnotID); !ok {
		return c.HandleError(ctx, fmt.Errorf("unknown annotation %d", request.AnnotID),
			"annotation not found", http.StatusNotFound)
	}

	start := time.Now()
	if err := c.Ledger.SetNote(request.AnnotID, request.Note); err != nil {
		return c.HandleError(ctx, err, "failed to store note", http.StatusInternalServerError)
	}
	if c.metrics != nil && c.metrics.Ledger != nil {
		c.metrics.Ledger.RecordNoteWrite(time.Since(start))
	}
	c.invalidateCaches()

	return ctx.JSON(http.StatusOK, map[string]any{
		"annot_id": request.AnnotID,
		"saved":    true,
	})
}
