package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/padmatch/internal/conf"
	enhErrors "github.com/tphakala/padmatch/internal/errors"
	"github.com/tphakala/padmatch/internal/logging"
)

// ErrCardAlreadyClaimed is returned when a match would give the same project
// card to a second annotation.
var ErrCardAlreadyClaimed = errors.New("project card already claimed by another annotation")

// ErrStoreTimeout is returned when the database stays locked past the
// configured busy timeout.
var ErrStoreTimeout = errors.New("ledger store timed out waiting for a lock")

// Store is the persistence interface for match and note state.
type Store interface {
	Open() error
	Close() error
	Location() string

	GetAllMatches() ([]Match, error)
	GetMatch(annotID int64) (Match, bool, error)
	SetMatch(annotID int64, value MatchValue, apiName string, padNum int64) error
	ClaimedCards() (map[int64]int64, error)

	GetAllNotes() ([]Note, error)
	GetNote(annotID int64) (Note, bool, error)
	SetNote(annotID int64, text string) error

	IsGroupComplete(annotIDs []int64) (bool, error)
	Stats() (Stats, error)

	DB() *gorm.DB
}

// APIStats summarizes progress within one API.
type APIStats struct {
	APIName string `json:"api_name"`
	Matched int64  `json:"matched"`
	NoMatch int64  `json:"no_match"`
}

// Stats summarizes the whole ledger.
type Stats struct {
	TotalMatches int64      `json:"total_matches"`
	Matched      int64      `json:"matched"`
	NoMatch      int64      `json:"no_match"`
	TotalNotes   int64      `json:"total_notes"`
	PerAPI       []APIStats `json:"per_api"`
}

// New creates the configured ledger store. Exactly one backend must be
// enabled; configuration validation enforces that before this runs.
func New(settings *conf.Settings) (Store, error) {
	logger := logging.ForService("ledger")
	if logger == nil {
		logger = slog.Default().With("service", "ledger")
	}
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{dataStore: dataStore{logger: logger}, Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{dataStore: dataStore{logger: logger}, Settings: settings}, nil
	default:
		return nil, enhErrors.Newf("no ledger store enabled in configuration").
			Component("ledger").
			Category(enhErrors.CategoryConfiguration).
			Build()
	}
}

// dataStore carries the backend-independent operations. The claim statement
// is dialect-specific and filled in by Open.
type dataStore struct {
	db       *gorm.DB
	claimSQL string
	logger   *slog.Logger
}

// DB exposes the underlying handle for backup sources and tests.
func (ds *dataStore) DB() *gorm.DB {
	return ds.db
}

func (ds *dataStore) migrate() error {
	if err := ds.db.AutoMigrate(&Match{}, &Note{}); err != nil {
		return enhErrors.New(err).
			Component("ledger").
			Category(enhErrors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Build()
	}
	return nil
}

// GetAllMatches returns every match row ordered by annotation key.
func (ds *dataStore) GetAllMatches() ([]Match, error) {
	var matches []Match
	if err := ds.db.Order("annot_id").Find(&matches).Error; err != nil {
		return nil, ds.dbError(err, "get_all_matches")
	}
	return matches, nil
}

// GetMatch returns the stored match for one annotation, if any.
func (ds *dataStore) GetMatch(annotID int64) (Match, bool, error) {
	var match Match
	err := ds.db.First(&match, "annot_id = ?", annotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Match{}, false, nil
	}
	if err != nil {
		return Match{}, false, ds.dbError(err, "get_match")
	}
	return match, true, nil
}

// SetMatch stores one decision. Unmatched removes the row; a match to a card
// already claimed by another annotation fails with ErrCardAlreadyClaimed and
// leaves the ledger untouched. The claim check and the write are a single
// statement, so concurrent writers cannot race past it.
func (ds *dataStore) SetMatch(annotID int64, value MatchValue, apiName string, padNum int64) error {
	if value.IsUnmatched() {
		if err := ds.db.Delete(&Match{}, "annot_id = ?", annotID).Error; err != nil {
			return ds.dbError(err, "delete_match")
		}
		ds.logger.Debug("match cleared", "annot_id", annotID)
		return nil
	}

	now := time.Now().UTC()
	stored := value.StoredCard()

	result := ds.db.Exec(ds.claimSQL,
		annotID, stored, apiName, padNum, now, now,
		stored, annotID)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return claimConflict(annotID, stored, ds.claimingAnnotation(stored))
		}
		return ds.dbError(result.Error, "set_match")
	}
	if result.RowsAffected == 0 {
		claimedBy := ds.claimingAnnotation(stored)
		if claimedBy == annotID {
			// Re-stating an identical claim can report zero affected rows.
			return nil
		}
		ds.logger.Warn("match rejected, card already claimed",
			"annot_id", annotID, "card_id", stored, "claimed_by", claimedBy)
		return claimConflict(annotID, stored, claimedBy)
	}

	ds.logger.Debug("match stored", "annot_id", annotID, "value", value.String())
	return nil
}

// claimConflict builds the error for a rejected claim. claimedBy is zero when
// the holder released the card between the rejected statement and the
// follow-up lookup; the holder is then left out of the message.
func claimConflict(annotID int64, storedCard string, claimedBy int64) error {
	cause := fmt.Errorf("%w: card %s", ErrCardAlreadyClaimed, storedCard)
	if claimedBy != 0 {
		cause = fmt.Errorf("%w: card %s held by annotation %d",
			ErrCardAlreadyClaimed, storedCard, claimedBy)
	}
	return enhErrors.New(cause).
		Component("ledger").
		Category(enhErrors.CategoryConflict).
		Context("annot_id", annotID).
		Context("card_id", storedCard).
		Build()
}

func (ds *dataStore) claimingAnnotation(storedCard string) int64 {
	var match Match
	if err := ds.db.First(&match, "card_id = ?", storedCard).Error; err != nil {
		return 0
	}
	return match.AnnotID
}

// ClaimedCards returns every claimed card keyed by card id, mapped to the
// annotation holding it. No-match rows carry no card and are skipped.
func (ds *dataStore) ClaimedCards() (map[int64]int64, error) {
	matches, err := ds.GetAllMatches()
	if err != nil {
		return nil, err
	}
	claimed := make(map[int64]int64, len(matches))
	for i := range matches {
		value, err := matches[i].Value()
		if err != nil {
			return nil, ds.dbError(err, "claimed_cards")
		}
		if cardID, ok := value.CardID(); ok {
			claimed[cardID] = matches[i].AnnotID
		}
	}
	return claimed, nil
}

// GetAllNotes returns every note ordered by annotation key.
func (ds *dataStore) GetAllNotes() ([]Note, error) {
	var notes []Note
	if err := ds.db.Order("annot_id").Find(&notes).Error; err != nil {
		return nil, ds.dbError(err, "get_all_notes")
	}
	return notes, nil
}

// GetNote returns the stored note for one annotation, if any.
func (ds *dataStore) GetNote(annotID int64) (Note, bool, error) {
	var note Note
	err := ds.db.First(&note, "annot_id = ?", annotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, ds.dbError(err, "get_note")
	}
	return note, true, nil
}

// SetNote upserts the note text for one annotation. Saving empty or
// whitespace-only text removes the note instead.
func (ds *dataStore) SetNote(annotID int64, text string) error {
	if strings.TrimSpace(text) == "" {
		if err := ds.db.Delete(&Note{}, "annot_id = ?", annotID).Error; err != nil {
			return ds.dbError(err, "delete_note")
		}
		return nil
	}

	now := time.Now().UTC()
	note := Note{AnnotID: annotID, NoteText: text, CreatedAt: now, UpdatedAt: now}
	err := ds.db.Where("annot_id = ?", annotID).
		Assign(map[string]any{"note_text": text, "updated_at": now}).
		FirstOrCreate(&note).Error
	if err != nil {
		return ds.dbError(err, "set_note")
	}
	return nil
}

// IsGroupComplete reports whether every listed annotation has a stored
// decision. An empty group is complete.
func (ds *dataStore) IsGroupComplete(annotIDs []int64) (bool, error) {
	if len(annotIDs) == 0 {
		return true, nil
	}
	var count int64
	err := ds.db.Model(&Match{}).Where("annot_id IN ?", annotIDs).Count(&count).Error
	if err != nil {
		return false, ds.dbError(err, "is_group_complete")
	}
	return count == int64(len(annotIDs)), nil
}

// Stats aggregates ledger-wide and per-API progress counts.
func (ds *dataStore) Stats() (Stats, error) {
	var stats Stats

	if err := ds.db.Model(&Match{}).Count(&stats.TotalMatches).Error; err != nil {
		return Stats{}, ds.dbError(err, "stats")
	}
	if err := ds.db.Model(&Match{}).
		Where("card_id = ?", NoMatchSentinel).
		Count(&stats.NoMatch).Error; err != nil {
		return Stats{}, ds.dbError(err, "stats")
	}
	stats.Matched = stats.TotalMatches - stats.NoMatch

	if err := ds.db.Model(&Note{}).Count(&stats.TotalNotes).Error; err != nil {
		return Stats{}, ds.dbError(err, "stats")
	}

	perAPI := make(map[string]*APIStats)
	order := []string{}
	rawRows := []struct {
		APIName   string `gorm:"column:api_name"`
		IsNoMatch bool   `gorm:"column:is_no_match"`
		Count     int64  `gorm:"column:count"`
	}{}
	err := ds.db.Model(&Match{}).
		Select("api_name, card_id = ? AS is_no_match, count(*) AS count", NoMatchSentinel).
		Group("api_name, is_no_match").
		Order("api_name").
		Find(&rawRows).Error
	if err != nil {
		return Stats{}, ds.dbError(err, "stats")
	}
	for i := range rawRows {
		row := &rawRows[i]
		entry, ok := perAPI[row.APIName]
		if !ok {
			entry = &APIStats{APIName: row.APIName}
			perAPI[row.APIName] = entry
			order = append(order, row.APIName)
		}
		if row.IsNoMatch {
			entry.NoMatch += row.Count
		} else {
			entry.Matched += row.Count
		}
	}
	for _, name := range order {
		stats.PerAPI = append(stats.PerAPI, *perAPI[name])
	}

	return stats, nil
}

func (ds *dataStore) dbError(err error, operation string) error {
	category := enhErrors.CategoryDatabase
	if isLockTimeout(err) {
		category = enhErrors.CategoryTimeout
		err = fmt.Errorf("%w: %s", ErrStoreTimeout, err.Error())
	}
	return enhErrors.New(err).
		Component("ledger").
		Category(category).
		Context("operation", operation).
		Build()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate entry")
}

func isLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "lock wait timeout")
}

func (ds *dataStore) closeDB() error {
	if ds.db == nil {
		return nil
	}
	sqlDB, err := ds.db.DB()
	if err != nil {
		return ds.dbError(err, "close")
	}
	return sqlDB.Close()
}
