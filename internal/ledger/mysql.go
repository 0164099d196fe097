package ledger

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/errors"
)

// mysqlClaimSQL mirrors the SQLite claim statement. The candidate row comes
// from a derived table so the NOT EXISTS and the duplicate-key update can both
// reference it by name.
const mysqlClaimSQL = `
INSERT INTO matches (annot_id, card_id, api_name, pad_num, created_at, updated_at)
SELECT * FROM (SELECT ? AS annot_id, ? AS card_id, ? AS api_name,
               ? AS pad_num, ? AS created_at, ? AS updated_at) AS candidate
WHERE NOT EXISTS (
    SELECT 1 FROM matches m
    WHERE m.card_id = ? AND m.card_id != 'no_match' AND m.annot_id != ?
)
ON DUPLICATE KEY UPDATE
    card_id = candidate.card_id,
    api_name = candidate.api_name,
    pad_num = candidate.pad_num,
    updated_at = candidate.updated_at`

// MySQLStore implements Store on a MySQL server.
type MySQLStore struct {
	dataStore
	Settings *conf.Settings
}

// Open connects to the configured MySQL database and prepares the schema.
func (store *MySQLStore) Open() error {
	cfg := &store.Settings.Output.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return errors.New(err).
			Component("ledger").
			Category(errors.CategoryDatabase).
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}

	store.db = db
	store.claimSQL = mysqlClaimSQL

	if err := store.migrate(); err != nil {
		return err
	}

	store.logger.Info("ledger opened", "backend", "mysql",
		"host", cfg.Host, "database", cfg.Database)
	return nil
}

// Close releases the connection pool.
func (store *MySQLStore) Close() error {
	return store.closeDB()
}

// Location returns a display string for the connected database.
func (store *MySQLStore) Location() string {
	cfg := &store.Settings.Output.MySQL
	return fmt.Sprintf("mysql://%s:%s/%s", cfg.Host, cfg.Port, cfg.Database)
}
