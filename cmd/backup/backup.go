// Package backup provides the snapshot management commands.
package backup

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/backup/sources"
	"github.com/tphakala/padmatch/internal/backup/targets"
	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/ledger"
)

// Command creates the backup command with its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage ledger snapshots",
	}
	cmd.AddCommand(runCommand(settings), listCommand(settings))
	return cmd
}

func runCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Take a manual snapshot of the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, ledgerStore, err := buildManager(settings)
			if err != nil {
				return err
			}
			defer ledgerStore.Close()

			metadata, err := manager.Snapshot(context.Background(), backup.CategoryManual)
			if err != nil {
				return err
			}
			fmt.Printf("snapshot %s stored (%d bytes)\n", metadata.ID, metadata.Size)
			return nil
		},
	}
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, ledgerStore, err := buildManager(settings)
			if err != nil {
				return err
			}
			defer ledgerStore.Close()

			backups, err := manager.List(context.Background())
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Println("no snapshots stored")
				return nil
			}
			for _, b := range backups {
				fmt.Printf("%s  %-8s  %10d bytes  %s\n",
					b.Timestamp.Format("2006-01-02 15:04:05"), b.Category, b.Size, b.ID)
			}
			return nil
		},
	}
}

func buildManager(settings *conf.Settings) (*backup.Manager, ledger.Store, error) {
	if err := conf.ValidateSettings(settings); err != nil {
		return nil, nil, err
	}

	ledgerStore, err := ledger.New(settings)
	if err != nil {
		return nil, nil, err
	}
	if err := ledgerStore.Open(); err != nil {
		return nil, nil, err
	}

	manager := backup.NewManager(settings)
	if err := manager.RegisterSource(sources.NewSQLiteSource(settings, ledgerStore.DB())); err != nil {
		ledgerStore.Close()
		return nil, nil, err
	}
	if err := manager.RegisterTarget(targets.NewLocalTarget(settings.Backup.Path)); err != nil {
		ledgerStore.Close()
		return nil, nil, err
	}
	if settings.Backup.SFTP.Enabled {
		if err := manager.RegisterTarget(targets.NewSFTPTarget(settings.Backup.SFTP)); err != nil {
			ledgerStore.Close()
			return nil, nil, err
		}
	}
	return manager, ledgerStore, nil
}
