// Package sources provides snapshot source implementations.
package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"gorm.io/gorm"

	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/errors"
)

const (
	vacuumRetries   = 3
	vacuumRetryWait = 2 * time.Second

	// Free space must cover the database size plus headroom for WAL content
	// folded in by the vacuum.
	diskSpaceHeadroom = 1.2
)

// SQLiteSource snapshots the live SQLite ledger with VACUUM INTO, which
// produces a consistent copy without blocking readers.
type SQLiteSource struct {
	settings *conf.Settings
	db       *gorm.DB
}

// NewSQLiteSource builds a source over the already open ledger handle.
func NewSQLiteSource(settings *conf.Settings, db *gorm.DB) *SQLiteSource {
	return &SQLiteSource{settings: settings, db: db}
}

// Name returns the source name recorded in snapshot metadata.
func (s *SQLiteSource) Name() string {
	return "sqlite"
}

// Validate checks that the source can run at all.
func (s *SQLiteSource) Validate() error {
	if !s.settings.Output.SQLite.Enabled {
		return errors.Newf("sqlite ledger is not enabled").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.db == nil {
		return errors.Newf("ledger database handle is not initialized").
			Component("backup").
			Category(errors.CategoryState).
			Build()
	}
	return nil
}

// Backup writes a consistent snapshot to a temporary file and returns its
// path. A locked database is retried a few times before giving up.
func (s *SQLiteSource) Backup(ctx context.Context) (string, error) {
	dbPath := s.settings.Output.SQLite.Path
	if err := s.checkDiskSpace(dbPath); err != nil {
		return "", err
	}

	tempDir, err := os.MkdirTemp("", "padmatch-snapshot-*")
	if err != nil {
		return "", errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Build()
	}
	tempPath := filepath.Join(tempDir, "snapshot.db")

	// VACUUM INTO does not accept bound parameters for the filename.
	vacuumSQL := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(tempPath, "'", "''"))

	var lastErr error
	for attempt := 1; attempt <= vacuumRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(tempDir)
			return "", errors.New(err).
				Component("backup").
				Category(errors.CategoryTimeout).
				Context("operation", "vacuum_into").
				Build()
		}

		lastErr = s.db.WithContext(ctx).Exec(vacuumSQL).Error
		if lastErr == nil {
			return tempPath, nil
		}
		// A fresh VACUUM INTO target must not exist on retry.
		os.Remove(tempPath)

		if !strings.Contains(strings.ToLower(lastErr.Error()), "database is locked") {
			break
		}
		if attempt < vacuumRetries {
			select {
			case <-ctx.Done():
			case <-time.After(vacuumRetryWait):
			}
		}
	}

	os.RemoveAll(tempDir)
	return "", errors.New(lastErr).
		Component("backup").
		Category(errors.CategoryDatabase).
		Context("operation", "vacuum_into").
		Context("path", dbPath).
		Build()
}

// checkDiskSpace refuses to start a snapshot that cannot fit on the temp
// filesystem.
func (s *SQLiteSource) checkDiskSpace(dbPath string) error {
	info, err := os.Stat(dbPath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", dbPath).
			Build()
	}

	usage, err := disk.Usage(os.TempDir())
	if err != nil {
		// Disk statistics are best effort; the vacuum itself fails cleanly
		// when space runs out.
		return nil
	}

	needed := uint64(float64(info.Size()) * diskSpaceHeadroom)
	if usage.Free < needed {
		return errors.Newf("not enough free disk space for snapshot: need %d bytes, have %d",
			needed, usage.Free).
			Component("backup").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}
