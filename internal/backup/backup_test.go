package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/padmatch/internal/conf"
)

// fakeSource writes a fixed payload to a temp file on every snapshot.
type fakeSource struct {
	payload []byte
	fail    error
}

func (s *fakeSource) Name() string    { return "fake" }
func (s *fakeSource) Validate() error { return nil }

func (s *fakeSource) Backup(ctx context.Context) (string, error) {
	if s.fail != nil {
		return "", s.fail
	}
	f, err := os.CreateTemp("", "fake-snapshot-*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(s.payload); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func testSettings(t *testing.T, retention map[string]int) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Backup.Enabled = true
	settings.Backup.Path = t.TempDir()
	settings.Backup.OperationTimeout = 30
	settings.Backup.Retention = retention
	return settings
}

func openTestManager(t *testing.T, settings *conf.Settings) (*Manager, Target) {
	t.Helper()
	manager := NewManager(settings)
	require.NoError(t, manager.RegisterSource(&fakeSource{payload: []byte("ledger bytes")}))
	target := newMemoryTarget()
	require.NoError(t, manager.RegisterTarget(target))
	return manager, target
}

// memoryTarget keeps stored snapshots in a map, for exercising the manager
// without touching the filesystem layer under test elsewhere.
type memoryTarget struct {
	stored map[string]Metadata
}

func newMemoryTarget() *memoryTarget {
	return &memoryTarget{stored: make(map[string]Metadata)}
}

func (m *memoryTarget) Name() string    { return "memory" }
func (m *memoryTarget) Validate() error { return nil }

func (m *memoryTarget) Store(ctx context.Context, sourcePath string, metadata *Metadata) error {
	if _, err := os.Stat(sourcePath); err != nil {
		return err
	}
	m.stored[metadata.ID] = *metadata
	return nil
}

func (m *memoryTarget) List(ctx context.Context) ([]BackupInfo, error) {
	var backups []BackupInfo
	for _, metadata := range m.stored {
		backups = append(backups, BackupInfo{Metadata: metadata, Target: m.Name()})
	}
	return backups, nil
}

func (m *memoryTarget) Delete(ctx context.Context, id string) error {
	delete(m.stored, id)
	return nil
}

func TestSnapshotStoresAndPrunes(t *testing.T) {
	settings := testSettings(t, map[string]int{"manual": 2})
	manager, target := openTestManager(t, settings)
	memory := target.(*memoryTarget)

	for i := 0; i < 3; i++ {
		metadata, err := manager.Snapshot(context.Background(), CategoryManual)
		require.NoError(t, err, "snapshot %d", i)
		assert.Equal(t, CategoryManual, metadata.Category)
		assert.Equal(t, int64(len("ledger bytes")), metadata.Size)
		// Distinct second-resolution timestamps keep retention ordering
		// deterministic.
		time.Sleep(1100 * time.Millisecond)
	}

	assert.Len(t, memory.stored, 2, "retention keeps the two newest manual snapshots")
}

func TestSnapshotCategoriesPruneIndependently(t *testing.T) {
	settings := testSettings(t, map[string]int{"manual": 1, "export": 1})
	manager, target := openTestManager(t, settings)
	memory := target.(*memoryTarget)

	_, err := manager.Snapshot(context.Background(), CategoryManual)
	require.NoError(t, err)
	_, err = manager.Snapshot(context.Background(), CategoryExport)
	require.NoError(t, err)

	assert.Len(t, memory.stored, 2, "one snapshot per category survives")
}

func TestSnapshotRejectsUnknownCategory(t *testing.T) {
	settings := testSettings(t, map[string]int{"manual": 1})
	manager, _ := openTestManager(t, settings)

	_, err := manager.Snapshot(context.Background(), "hourly")
	assert.Error(t, err)
}

func TestSnapshotWhenDisabled(t *testing.T) {
	settings := testSettings(t, map[string]int{"manual": 1})
	settings.Backup.Enabled = false
	manager, _ := openTestManager(t, settings)

	_, err := manager.Snapshot(context.Background(), CategoryManual)
	assert.Error(t, err)
}

func TestListAndDelete(t *testing.T) {
	settings := testSettings(t, map[string]int{"manual": 5})
	manager, _ := openTestManager(t, settings)

	metadata, err := manager.Snapshot(context.Background(), CategoryManual)
	require.NoError(t, err)

	backups, err := manager.List(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, metadata.ID, backups[0].ID)
	assert.Equal(t, "memory", backups[0].Target)

	require.NoError(t, manager.Delete(context.Background(), metadata.ID))

	backups, err = manager.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, backups)

	err = manager.Delete(context.Background(), metadata.ID)
	assert.Error(t, err, "deleting an absent snapshot reports not found")
}

func TestInfoAggregatesInventory(t *testing.T) {
	settings := testSettings(t, map[string]int{"manual": 5})
	manager, _ := openTestManager(t, settings)

	info, err := manager.Info(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, info.Backups)
	assert.Empty(t, info.Backups)
	assert.Zero(t, info.TotalSize)
	assert.True(t, info.MostRecent.IsZero())

	first, err := manager.Snapshot(context.Background(), CategoryManual)
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	second, err := manager.Snapshot(context.Background(), CategoryManual)
	require.NoError(t, err)

	info, err = manager.Info(context.Background())
	require.NoError(t, err)
	require.Len(t, info.Backups, 2)
	assert.Equal(t, first.Size+second.Size, info.TotalSize)
	assert.Equal(t, second.Timestamp, info.MostRecent)
	assert.Equal(t, second.ID, info.Backups[0].ID, "inventory is newest first")
}

func TestParseSnapshotName(t *testing.T) {
	t.Parallel()

	metadata, ok := ParseSnapshotName("padmatch-manual-20260115T093000Z-1a2b3c4d.db", 123)
	require.True(t, ok)
	assert.Equal(t, "padmatch-manual-20260115T093000Z-1a2b3c4d", metadata.ID)
	assert.Equal(t, "manual", metadata.Category)
	assert.Equal(t, int64(123), metadata.Size)
	assert.Equal(t, time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC), metadata.Timestamp)

	_, ok = ParseSnapshotName("ledger.db", 1)
	assert.False(t, ok)
	_, ok = ParseSnapshotName("padmatch-manual-garbage-1a2b3c4d.db", 1)
	assert.False(t, ok)
}

func TestValidateSnapshotID(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateSnapshotID("padmatch-manual-20260115T093000Z-1a2b3c4d"))
	assert.Error(t, ValidateSnapshotID(""))
	assert.Error(t, ValidateSnapshotID("../etc/passwd"))
	assert.Error(t, ValidateSnapshotID("padmatch-manual"))
}

func TestSnapshotIDMatchesStoredFilename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	name := "padmatch-export-20260115T093000Z-deadbeef.db"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))

	metadata, ok := ParseSnapshotName(name, 1)
	require.True(t, ok)
	assert.NoError(t, ValidateSnapshotID(metadata.ID))
}
