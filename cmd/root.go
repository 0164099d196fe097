package cmd

import (
	"github.com/spf13/cobra"

	backupcmd "github.com/tphakala/padmatch/cmd/backup"
	"github.com/tphakala/padmatch/cmd/cleanup"
	exportcmd "github.com/tphakala/padmatch/cmd/export"
	"github.com/tphakala/padmatch/cmd/importer"
	"github.com/tphakala/padmatch/cmd/serve"
	"github.com/tphakala/padmatch/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "padmatch",
		Short: "PADMatch annotation curation service",
		Long: "PADMatch matches student annotations against project cards, " +
			"tracks decisions in a durable ledger, and produces matched exports.",
	}

	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", settings.Debug, "Enable debug output")

	subcommands := []*cobra.Command{
		serve.Command(settings),
		exportcmd.Command(settings),
		importer.Command(settings),
		backupcmd.Command(settings),
		cleanup.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	return rootCmd
}
