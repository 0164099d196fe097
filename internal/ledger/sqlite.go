package ledger

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/errors"
)

// sqliteClaimSQL inserts or updates one match, but only when no other
// annotation already holds the card. Re-stating an annotation's own claim is
// allowed; the NOT EXISTS excludes the row being written.
const sqliteClaimSQL = `
INSERT INTO matches (annot_id, card_id, api_name, pad_num, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (
    SELECT 1 FROM matches WHERE card_id = ? AND card_id != 'no_match' AND annot_id != ?
)
ON CONFLICT(annot_id) DO UPDATE SET
    card_id = excluded.card_id,
    api_name = excluded.api_name,
    pad_num = excluded.pad_num,
    updated_at = excluded.updated_at`

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	dataStore
	Settings *conf.Settings
}

// Open creates the database file if needed and prepares the schema. WAL mode
// with a 30 second busy timeout lets the web handlers and the backup source
// share the file.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.New(err).
				Component("ledger").
				Category(errors.CategoryFileIO).
				Context("path", dir).
				Build()
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=30000&_foreign_keys=ON"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return errors.New(err).
			Component("ledger").
			Category(errors.CategoryDatabase).
			Context("path", path).
			Build()
	}

	store.db = db
	store.claimSQL = sqliteClaimSQL

	if err := store.migrate(); err != nil {
		return err
	}

	// The partial unique index rejects a double claim even through a raw
	// write path that bypasses the claim statement.
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_matches_card_claim
		ON matches(card_id) WHERE card_id != 'no_match'`).Error
	if err != nil {
		return store.dbError(err, "create_claim_index")
	}

	store.logger.Info("ledger opened", "backend", "sqlite", "path", path)
	return nil
}

// Close flushes and closes the database file.
func (store *SQLiteStore) Close() error {
	return store.closeDB()
}

// Location returns the database file path.
func (store *SQLiteStore) Location() string {
	return store.Settings.Output.SQLite.Path
}
