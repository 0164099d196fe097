// Package importer implements the command that replays match decisions from a
// previously generated export file.
package importer

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/backup/sources"
	"github.com/tphakala/padmatch/internal/backup/targets"
	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/export"
	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/logging"
	"github.com/tphakala/padmatch/internal/records"
)

// Command creates the import command.
func Command(settings *conf.Settings) *cobra.Command {
	var skipSnapshot bool

	cmd := &cobra.Command{
		Use:   "import <export-file>",
		Short: "Apply match decisions from an export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings, args[0], skipSnapshot)
		},
	}
	cmd.Flags().BoolVar(&skipSnapshot, "skip-snapshot", false, "Skip the safety snapshot before applying")
	return cmd
}

func run(settings *conf.Settings, path string, skipSnapshot bool) error {
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

	if !skipSnapshot && settings.Backup.Enabled && settings.Output.SQLite.Enabled {
		manager := backup.NewManager(settings)
		if err := manager.RegisterSource(sources.NewSQLiteSource(settings, ledgerStore.DB())); err != nil {
			return err
		}
		if err := manager.RegisterTarget(targets.NewLocalTarget(settings.Backup.Path)); err != nil {
			return err
		}
		if _, err := manager.Snapshot(context.Background(), backup.CategoryImport); err != nil {
			return fmt.Errorf("safety snapshot failed, aborting import: %w", err)
		}
	}

	importer := export.NewImporter(store, ledgerStore, logging.ForService("import"))
	summary, err := importer.Run(path)
	if err != nil {
		return err
	}

	fmt.Printf("applied %d matches and %d notes, skipped %d rows\n",
		summary.MatchesApplied, summary.NotesApplied, summary.Skipped)
	for _, problem := range summary.Problems {
		fmt.Printf("  %s\n", problem)
	}
	return nil
}
