package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/padmatch/internal/errors"
)

const filenameTimestampLayout = "20060102_150405"

// Filename returns the export filename for a point in time.
func Filename(t time.Time) string {
	return fmt.Sprintf("padmatch_matched_export_%s.csv", t.Format(filenameTimestampLayout))
}

// WriteFile writes the assembled rows to a timestamped CSV file in the given
// directory and returns its path.
func WriteFile(dir string, rows [][]string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}

	path := filepath.Join(dir, Filename(time.Now()))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.New(err).
			Component("export").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := writeRows(f, rows); err != nil {
		f.Close()
		return "", writeError(err, path)
	}
	if err := f.Close(); err != nil {
		return "", writeError(err, path)
	}
	return path, nil
}

func writeRows(f *os.File, rows [][]string) error {
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeError(err error, path string) error {
	return errors.New(err).
		Component("export").
		Category(errors.CategoryExport).
		Context("path", path).
		Build()
}
