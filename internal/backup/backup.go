// Package backup provides snapshot and retention management for the ledger
// database. Snapshots are full database copies taken before risky operations
// and on demand, grouped into categories with independent retention counts.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/errors"
	"github.com/tphakala/padmatch/internal/logging"
)

// Snapshot categories. Each carries its own retention count.
const (
	CategoryManual = "manual" // operator-requested snapshots
	CategoryAuto   = "auto"   // taken when a PAD group reaches completeness
	CategoryExport = "export" // taken before serving an export
	CategoryImport = "import" // taken before applying an import
)

const timestampLayout = "20060102T150405Z"

// Source produces a consistent snapshot file of the live database.
type Source interface {
	Name() string
	// Backup writes a snapshot to a temporary file and returns its path.
	// The caller removes the file after storing it.
	Backup(ctx context.Context) (string, error)
	Validate() error
}

// Target stores snapshot files somewhere durable.
type Target interface {
	Name() string
	Store(ctx context.Context, sourcePath string, metadata *Metadata) error
	List(ctx context.Context) ([]BackupInfo, error)
	Delete(ctx context.Context, id string) error
	Validate() error
}

// Metadata describes one snapshot.
type Metadata struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
	Source    string    `json:"source"`
}

// BackupInfo is a stored snapshot together with the target holding it.
type BackupInfo struct {
	Metadata
	Target string `json:"target"`
}

// Manager coordinates the snapshot source, the configured targets, and
// per-category retention.
type Manager struct {
	settings *conf.Settings
	source   Source
	targets  []Target
	logger   *slog.Logger

	// Serializes snapshot runs. Retention deletes race against concurrent
	// stores otherwise.
	mu sync.Mutex
}

// NewManager wires the manager from configuration. Targets must be registered
// before the first snapshot.
func NewManager(settings *conf.Settings) *Manager {
	logger := logging.ForService("backup")
	if logger == nil {
		logger = slog.Default().With("service", "backup")
	}
	return &Manager{settings: settings, logger: logger}
}

// RegisterSource sets the snapshot source.
func (m *Manager) RegisterSource(source Source) error {
	if err := source.Validate(); err != nil {
		return err
	}
	m.source = source
	return nil
}

// RegisterTarget adds a storage target.
func (m *Manager) RegisterTarget(target Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	m.targets = append(m.targets, target)
	return nil
}

// Enabled reports whether snapshots are configured to run.
func (m *Manager) Enabled() bool {
	return m.settings.Backup.Enabled && m.source != nil && len(m.targets) > 0
}

// Snapshot takes one snapshot in the given category, stores it in every
// target, and prunes the category down to its retention count.
func (m *Manager) Snapshot(ctx context.Context, category string) (*Metadata, error) {
	if !m.Enabled() {
		return nil, errors.Newf("backups are not enabled").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	keep, ok := m.settings.Backup.Retention[category]
	if !ok {
		return nil, errors.Newf("unknown snapshot category %q", category).
			Component("backup").
			Category(errors.CategoryValidation).
			Context("category", category).
			Build()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	timeout := time.Duration(m.settings.Backup.OperationTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	tempPath, err := m.source.Backup(ctx)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempPath)

	info, err := os.Stat(tempPath)
	if err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", tempPath).
			Build()
	}

	now := time.Now().UTC()
	metadata := &Metadata{
		ID:        fmt.Sprintf("padmatch-%s-%s-%s", category, now.Format(timestampLayout), uuid.NewString()[:8]),
		Category:  category,
		Timestamp: now,
		Size:      info.Size(),
		Source:    m.source.Name(),
	}

	for _, target := range m.targets {
		if err := target.Store(ctx, tempPath, metadata); err != nil {
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryBackup).
				Context("target", target.Name()).
				Context("id", metadata.ID).
				Build()
		}
	}

	m.logger.Info("snapshot stored",
		"id", metadata.ID,
		"category", category,
		"size", metadata.Size,
		"targets", len(m.targets),
		"duration_ms", time.Since(start).Milliseconds())

	for _, target := range m.targets {
		if err := m.enforceRetention(ctx, target, category, keep); err != nil {
			m.logger.Warn("retention enforcement failed",
				"target", target.Name(), "category", category, "error", err)
		}
	}

	return metadata, nil
}

// enforceRetention deletes the oldest snapshots of a category beyond the
// configured count on one target.
func (m *Manager) enforceRetention(ctx context.Context, target Target, category string, keep int) error {
	backups, err := target.List(ctx)
	if err != nil {
		return err
	}

	var inCategory []BackupInfo
	for _, b := range backups {
		if b.Category == category {
			inCategory = append(inCategory, b)
		}
	}
	if len(inCategory) <= keep {
		return nil
	}

	sort.Slice(inCategory, func(i, j int) bool {
		return inCategory[i].Timestamp.After(inCategory[j].Timestamp)
	})

	for _, stale := range inCategory[keep:] {
		if err := target.Delete(ctx, stale.ID); err != nil {
			return err
		}
		m.logger.Info("stale snapshot removed",
			"id", stale.ID, "category", category, "target", target.Name())
	}
	return nil
}

// List returns every stored snapshot across all targets, newest first.
func (m *Manager) List(ctx context.Context) ([]BackupInfo, error) {
	var all []BackupInfo
	for _, target := range m.targets {
		backups, err := target.List(ctx)
		if err != nil {
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryBackup).
				Context("target", target.Name()).
				Build()
		}
		all = append(all, backups...)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	return all, nil
}

// ListInfo is the snapshot inventory with its aggregates.
type ListInfo struct {
	Backups    []BackupInfo `json:"backups"`
	TotalSize  int64        `json:"total_size"`
	MostRecent time.Time    `json:"most_recent"`
}

// Info returns the snapshot inventory together with the total stored size and
// the timestamp of the newest snapshot. MostRecent is the zero time when
// nothing is stored.
func (m *Manager) Info(ctx context.Context) (*ListInfo, error) {
	backups, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	info := &ListInfo{Backups: backups}
	if info.Backups == nil {
		info.Backups = []BackupInfo{}
	}
	for i := range backups {
		info.TotalSize += backups[i].Size
		if backups[i].Timestamp.After(info.MostRecent) {
			info.MostRecent = backups[i].Timestamp
		}
	}
	return info, nil
}

// Delete removes one snapshot from every target holding it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := false
	for _, target := range m.targets {
		backups, err := target.List(ctx)
		if err != nil {
			return err
		}
		for _, b := range backups {
			if b.ID == id {
				if err := target.Delete(ctx, id); err != nil {
					return err
				}
				deleted = true
			}
		}
	}
	if !deleted {
		return errors.Newf("snapshot %s not found", id).
			Component("backup").
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil
}

// snapshotNamePattern matches the stored snapshot filenames and captures
// category, timestamp, and the random suffix.
var snapshotNamePattern = regexp.MustCompile(
	`^(padmatch-([a-z]+)-(\d{8}T\d{6}Z)-[0-9a-f]{8})\.db$`)

// ParseSnapshotName recovers metadata from a stored filename. Returns false
// for files that are not snapshots.
func ParseSnapshotName(name string, size int64) (Metadata, bool) {
	parts := snapshotNamePattern.FindStringSubmatch(name)
	if parts == nil {
		return Metadata{}, false
	}
	timestamp, err := time.Parse(timestampLayout, parts[3])
	if err != nil {
		return Metadata{}, false
	}
	return Metadata{
		ID:        parts[1],
		Category:  parts[2],
		Timestamp: timestamp,
		Size:      size,
	}, true
}

// ValidateSnapshotID rejects ids that could escape the storage directory.
func ValidateSnapshotID(id string) error {
	if id == "" || id != filepath.Base(id) || !snapshotNamePattern.MatchString(id+".db") {
		return errors.Newf("invalid snapshot id %s", strconv.Quote(id)).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
	return nil
}
