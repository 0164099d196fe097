package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/padmatch/internal/backup"
)

// TriggerBackup takes a manual snapshot of the ledger.
func (c *Controller) TriggerBackup(ctx echo.Context) error {
	if c.Backups == nil || !c.Backups.Enabled() {
		return c.HandleError(ctx, nil, "backups are not enabled", http.StatusServiceUnavailable)
	}

	start := time.Now()
	metadata, err := c.Backups.Snapshot(ctx.Request().Context(), backup.CategoryManual)
	c.recordSnapshot(backup.CategoryManual, err, start)
	if err != nil {
		return c.HandleError(ctx, err, "snapshot failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, metadata)
}

// ListBackups serves the snapshot inventory across all targets, newest first,
// with the total stored size and the newest snapshot timestamp.
func (c *Controller) ListBackups(ctx echo.Context) error {
	if c.Backups == nil {
		return ctx.JSON(http.StatusOK, &backup.ListInfo{Backups: []backup.BackupInfo{}})
	}
	info, err := c.Backups.Info(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "failed to list snapshots", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, info)
}

// DeleteBackup removes one snapshot by id.
func (c *Controller) DeleteBackup(ctx echo.Context) error {
	if c.Backups == nil || !c.Backups.Enabled() {
		return c.HandleError(ctx, nil, "backups are not enabled", http.StatusServiceUnavailable)
	}
	id := ctx.Param("id")
	if err := backup.ValidateSnapshotID(id); err != nil {
		return c.HandleError(ctx, err, "invalid snapshot id", http.StatusBadRequest)
	}
	if err := c.Backups.Delete(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "failed to delete snapshot", http.StatusNotFound)
	}
	return ctx.NoContent(http.StatusNoContent)
}
