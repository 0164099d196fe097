// Package serve implements the command that runs the curation web service.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/tphakala/padmatch/internal/api"
	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/backup/sources"
	"github.com/tphakala/padmatch/internal/backup/targets"
	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/logging"
	"github.com/tphakala/padmatch/internal/observability"
	"github.com/tphakala/padmatch/internal/records"
)

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the curation web service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(settings)
		},
	}
	cmd.Flags().StringVarP(&settings.WebServer.Port, "port", "p", settings.WebServer.Port, "Port to listen on")
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
	resolver := records.NewResolver(store, settings.Matching.CameraAliases)

	ledgerStore, err := ledger.New(settings)
	if err != nil {
		return err
	}
	if err := ledgerStore.Open(); err != nil {
		return err
	}
	defer ledgerStore.Close()

	backupManager, err := buildBackupManager(settings, ledgerStore)
	if err != nil {
		return err
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	controller, err := api.New(echo.New(), settings, store, resolver, ledgerStore,
		backupManager, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info("padmatch serving",
		"port", settings.WebServer.Port,
		"ledger", ledgerStore.Location(),
		"annotations", len(store.Annotations()),
		"project_cards", len(store.Cards()))
	return controller.Start(ctx)
}

// buildBackupManager wires the snapshot source and targets from
// configuration. Returns nil when backups are disabled.
func buildBackupManager(settings *conf.Settings, ledgerStore ledger.Store) (*backup.Manager, error) {
	if !settings.Backup.Enabled {
		return nil, nil
	}
	if !settings.Output.SQLite.Enabled {
		logging.Warn("backups require the sqlite ledger, disabling snapshots")
		return nil, nil
	}

	manager := backup.NewManager(settings)
	if err := manager.RegisterSource(sources.NewSQLiteSource(settings, ledgerStore.DB())); err != nil {
		return nil, err
	}
	if err := manager.RegisterTarget(targets.NewLocalTarget(settings.Backup.Path)); err != nil {
		return nil, err
	}
	if settings.Backup.SFTP.Enabled {
		if err := manager.RegisterTarget(targets.NewSFTPTarget(settings.Backup.SFTP)); err != nil {
			return nil, err
		}
	}
	return manager, nil
}
