// Package cleanup implements the command that removes ledger rows orphaned by
// source table updates.
package cleanup

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/backup/sources"
	"github.com/tphakala/padmatch/internal/backup/targets"
	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/logging"
	"github.com/tphakala/padmatch/internal/records"
)

// Command creates the cleanup command.
func Command(settings *conf.Settings) *cobra.Command {
	var dryRun bool
	var wipeAll bool
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove ledger rows that no longer match the source tables",
		Long: "Removes match and note rows whose annotation disappeared from the " +
			"annotations table, and match rows whose card disappeared from the " +
			"project cards table. With --all, wipes every match, note and " +
			"snapshot instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wipeAll {
				return runWipe(settings, confirmed)
			}
			return run(settings, dryRun)
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report orphaned rows without deleting them")
	cmd.Flags().BoolVar(&wipeAll, "all", false, "Wipe all matches, notes and snapshots")
	cmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm the wipe, required with --all")
	return cmd
}

// runWipe clears the whole ledger and removes every stored snapshot.
func runWipe(settings *conf.Settings, confirmed bool) error {
	if !confirmed {
		return errors.New("--all wipes every match, note and snapshot; pass --yes to confirm")
	}
	if err := conf.ValidateSettings(settings); err != nil {
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

	if err := ledgerStore.DB().Exec("DELETE FROM matches").Error; err != nil {
		return err
	}
	if err := ledgerStore.DB().Exec("DELETE FROM notes").Error; err != nil {
		return err
	}
	fmt.Println("all matches and notes removed")

	if settings.Backup.Enabled && settings.Output.SQLite.Enabled {
		manager := backup.NewManager(settings)
		if err := manager.RegisterSource(sources.NewSQLiteSource(settings, ledgerStore.DB())); err != nil {
			return err
		}
		if err := manager.RegisterTarget(targets.NewLocalTarget(settings.Backup.Path)); err != nil {
			return err
		}
		if settings.Backup.SFTP.Enabled {
			if err := manager.RegisterTarget(targets.NewSFTPTarget(settings.Backup.SFTP)); err != nil {
				return err
			}
		}
		snapshots, err := manager.List(context.Background())
		if err != nil {
			return err
		}
		for _, snapshot := range snapshots {
			if err := manager.Delete(context.Background(), snapshot.ID); err != nil {
				return err
			}
		}
		fmt.Printf("%d snapshots removed\n", len(snapshots))
	}
	return nil
}

func run(settings *conf.Settings, dryRun bool) error {
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

	orphaned := 0
	for i := range matches {
		match := &matches[i]
		reason := orphanReason(store, match)
		if reason == "" {
			continue
		}
		orphaned++
		fmt.Printf("match annot_id=%d card_id=%s: %s\n", match.AnnotID, match.CardID, reason)
		if !dryRun {
			if err := ledgerStore.SetMatch(match.AnnotID, ledger.Unmatched(), "", 0); err != nil {
				return err
			}
		}
	}

	for i := range notes {
		note := &notes[i]
		if _, ok := store.AnnotationByID(note.AnnotID); ok {
			continue
		}
		orphaned++
		fmt.Printf("note annot_id=%d: annotation no longer exists\n", note.AnnotID)
		if !dryRun {
			if err := ledgerStore.SetNote(note.AnnotID, ""); err != nil {
				return err
			}
		}
	}

	if orphaned == 0 {
		fmt.Println("ledger is consistent with the source tables")
	} else if dryRun {
		fmt.Printf("%d orphaned rows found (dry run, nothing deleted)\n", orphaned)
	} else {
		fmt.Printf("%d orphaned rows removed\n", orphaned)
	}
	return nil
}

// orphanReason explains why a match row is orphaned, or returns "" for a
// valid row.
func orphanReason(store *records.Store, match *ledger.Match) string {
	annot, ok := store.AnnotationByID(match.AnnotID)
	if !ok {
		return "annotation no longer exists"
	}

	value, err := match.Value()
	if err != nil {
		return "stored card value is not decodable"
	}
	cardID, matched := value.CardID()
	if !matched {
		return ""
	}
	card, ok := store.CardByID(cardID)
	if !ok {
		return "card no longer exists"
	}
	if card.SampleID != annot.SampleID {
		return fmt.Sprintf("card moved to PAD %d", card.SampleID)
	}
	return ""
}
