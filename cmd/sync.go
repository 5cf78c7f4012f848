package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tunesyncd/tunesyncd/internal/app"
	"github.com/tunesyncd/tunesyncd/internal/logger"
)

//nolint:gochecknoglobals // Cobra command requires a global definition for proper command-line parsing and execution.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle in the foreground and download what is missing.",
	Long: `Runs a single sync cycle against the configured playlists, then drains
the download queue with a progress bar and exits.

Useful for cron-style setups or a first fill of the library without leaving
the daemon running.`,
	Args:             cobra.NoArgs,
	PersistentPreRun: initConfig,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := bindFlagsToConfig(cmd.Flags(), appConfig); err != nil {
			logger.Fatalf(cmd.Context(), "Failed to parse flags: %v", err)
		}

		app.ExecuteSyncCommand(cmd.Context(), appConfig)
	},
}

//nolint:gochecknoinits // Cobra requires the init function to set up commands.
func init() {
	syncCmd.Flags().StringP(
		"database",
		"d",
		"",
		"path to the SQLite catalog file (created if it doesn't exist).")

	syncCmd.Flags().String(
		"download-timeout",
		"",
		"per-track download deadline, for example: 300s, 10m.")

	rootCmd.AddCommand(syncCmd)
}
