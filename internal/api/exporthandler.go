package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/export"
)

// GenerateExport snapshots the ledger, assembles the matched export, and
// serves the file as a download.
func (c *Controller) GenerateExport(ctx echo.Context) error {
	if c.Backups != nil && c.Backups.Enabled() {
		start := time.Now()
		_, err := c.Backups.Snapshot(ctx.Request().Context(), backup.CategoryExport)
		c.recordSnapshot(backup.CategoryExport, err, start)
		if err != nil {
			// The export itself is read-only; a failed safety snapshot is
			// logged but does not block it.
			c.apiLogger.Warn("pre-export snapshot failed", "error", err)
		}
	}

	matches, err := c.Ledger.GetAllMatches()
	if err != nil {
		c.recordExport("error")
		return c.HandleError(ctx, err, "failed to read ledger", http.StatusInternalServerError)
	}
	notes, err := c.Ledger.GetAllNotes()
	if err != nil {
		c.recordExport("error")
		return c.HandleError(ctx, err, "failed to read ledger", http.StatusInternalServerError)
	}

	assembler := export.NewAssembler(c.Store, c.Settings.Export.PublicBaseURL, c.apiLogger)
	rows, err := assembler.Assemble(matches, notes)
	if err != nil {
		c.recordExport("error")
		return c.HandleError(ctx, err, "failed to assemble export", http.StatusInternalServerError)
	}

	path, err := export.WriteFile(c.Settings.Export.Path, rows)
	if err != nil {
		c.recordExport("error")
		return c.HandleError(ctx, err, "failed to write export file", http.StatusInternalServerError)
	}

	c.recordExport("success")
	c.apiLogger.Info("export generated", "path", path, "rows", len(rows))
	return ctx.Attachment(path, filepath.Base(path))
}

func (c *Controller) recordExport(status string) {
	if c.metrics != nil && c.metrics.Pipeline != nil {
		c.metrics.Pipeline.RecordExport(status)
	}
}

// RunImport applies match decisions from an uploaded export file. A safety
// snapshot is taken first; the upload is rejected if the snapshot fails.
func (c *Controller) RunImport(ctx echo.Context) error {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return c.HandleError(ctx, err, "missing file upload", http.StatusBadRequest)
	}

	if c.Backups != nil && c.Backups.Enabled() {
		start := time.Now()
		_, err := c.Backups.Snapshot(ctx.Request().Context(), backup.CategoryImport)
		c.recordSnapshot(backup.CategoryImport, err, start)
		if err != nil {
			c.recordImport("error")
			return c.HandleError(ctx, err, "pre-import snapshot failed", http.StatusServiceUnavailable)
		}
	}

	source, err := fileHeader.Open()
	if err != nil {
		c.recordImport("error")
		return c.HandleError(ctx, err, "failed to read upload", http.StatusBadRequest)
	}
	defer source.Close()

	temp, err := os.CreateTemp("", "padmatch-import-*.csv")
	if err != nil {
		c.recordImport("error")
		return c.HandleError(ctx, err, "failed to stage upload", http.StatusInternalServerError)
	}
	defer os.Remove(temp.Name())
	if _, err := io.Copy(temp, source); err != nil {
		temp.Close()
		c.recordImport("error")
		return c.HandleError(ctx, err, "failed to stage upload", http.StatusInternalServerError)
	}
	if err := temp.Close(); err != nil {
		c.recordImport("error")
		return c.HandleError(ctx, err, "failed to stage upload", http.StatusInternalServerError)
	}

	importer := export.NewImporter(c.Store, c.Ledger, c.apiLogger)
	summary, err := importer.Run(temp.Name())
	if err != nil {
		c.recordImport("error")
		return c.HandleError(ctx, err, "import failed", http.StatusUnprocessableEntity)
	}

	c.recordImport("success")
	c.invalidateCaches()
	return ctx.JSON(http.StatusOK, summary)
}

func (c *Controller) recordImport(status string) {
	if c.metrics != nil && c.metrics.Pipeline != nil {
		c.metrics.Pipeline.RecordImport(status)
	}
}
