// Package export implements the command that writes the matched export file.
package export

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/export"
	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/logging"
	"github.com/tphakala/padmatch/internal/records"
)

// Command creates the export command.
func Command(settings *conf.Settings) *cobra.Command {
	var outputDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the matched export CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir != "" {
				settings.Export.Path = outputDir
			}
			return run(settings)
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for the export file")
	return cmd
}

func run(settings *conf.Settings) error {
	if err := conf.ValidateSettings(settings); err != nil {
		return err
	}

	store, err := records.Load(settings.Data.AnnotationsPath, settings.Data.ProjectCardsPath,
		logging.ForService("records"))
	if err != nil {
		return err
	}

	ledgerStore, err := ledger.New(settings)
	if err != nil {
		return err
	}
	if err := ledgerStore.Open(); err != nil {
		return err
	}
	defer ledgerStore.Close()

	matches, err := ledgerStore.GetAllMatches()
	if err != nil {
		return err
	}
	notes, err := ledgerStore.GetAllNotes()
	if err != nil {
		return err
	}

	assembler := export.NewAssembler(store, settings.Export.PublicBaseURL,
		logging.ForService("export"))
	rows, err := assembler.Assemble(matches, notes)
	if err != nil {
		return err
	}

	path, err := export.WriteFile(settings.Export.Path, rows)
	if err != nil {
		return err
	}

	fmt.Printf("wrote %d rows to %s\n", len(rows), path)
	return nil
}
