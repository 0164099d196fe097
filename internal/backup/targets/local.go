// Package targets provides snapshot storage target implementations.
package targets

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/errors"
)

// LocalTarget stores snapshots in a directory on the local filesystem.
type LocalTarget struct {
	path string
}

// NewLocalTarget creates a target rooted at the given directory. The
// directory is created on first store.
func NewLocalTarget(path string) *LocalTarget {
	return &LocalTarget{path: path}
}

// Name returns the target name used in logs and listings.
func (t *LocalTarget) Name() string {
	return "local"
}

// Validate checks the configured path.
func (t *LocalTarget) Validate() error {
	if t.path == "" {
		return errors.Newf("local snapshot target path is empty").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Store copies the snapshot file into the target directory under its
// metadata id.
func (t *LocalTarget) Store(ctx context.Context, sourcePath string, metadata *backup.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(t.path, 0o755); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", t.path).
			Build()
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", sourcePath).
			Build()
	}
	defer src.Close()

	destPath := filepath.Join(t.path, metadata.ID+".db")
	// Write to a temp name first so a listed snapshot is always complete.
	tempPath := destPath + ".tmp"
	dst, err := os.Create(tempPath)
	if err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", tempPath).
			Build()
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tempPath)
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", tempPath).
			Build()
	}
	if err := dst.Close(); err != nil {
		os.Remove(tempPath)
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", tempPath).
			Build()
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", destPath).
			Build()
	}
	return nil
}

// List returns the snapshots present in the target directory.
func (t *LocalTarget) List(ctx context.Context) ([]backup.BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(t.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("path", t.path).
			Build()
	}

	var backups []backup.BackupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		metadata, ok := backup.ParseSnapshotName(entry.Name(), info.Size())
		if !ok {
			continue
		}
		backups = append(backups, backup.BackupInfo{Metadata: metadata, Target: t.Name()})
	}
	return backups, nil
}

// Delete removes one snapshot by id.
func (t *LocalTarget) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := backup.ValidateSnapshotID(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(t.path, id+".db")); err != nil {
		return errors.New(err).
			Component("backup").
			Category(errors.CategoryFileIO).
			Context("id", id).
			Build()
	}
	return nil
}
