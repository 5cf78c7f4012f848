package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tunesyncd/tunesyncd/internal/app"
	"github.com/tunesyncd/tunesyncd/internal/config"
	"github.com/tunesyncd/tunesyncd/internal/logger"
)

var (
	//nolint:gochecknoglobals // It is required for configuration initialization before the application starts.
	configFilenameFromFlag string

	//nolint:gochecknoglobals,lll // It is initialized once during the application's startup and shared across the command execution logic.
	appConfig *config.Config

	//nolint:gochecknoglobals,lll // Cobra command requires a global definition for proper command-line parsing and execution.
	rootCmd = &cobra.Command{
		Use:   "tunesyncd [flags]",
		Short: "Keep a local audio library in sync with remote playlists.",
		Long: `Tunesyncd is a background daemon that mirrors selected remote playlists
into a local audio library.

It periodically fetches the selected playlists, reconciles them against the
files on disk, and downloads whatever is missing through a search-and-match
pipeline. A local HTTP control surface exposes status, queue and
configuration endpoints.

Run without arguments to start the daemon, or use 'tunesyncd sync' for a
one-shot foreground sync.`,
		Args:             cobra.NoArgs,
		PersistentPreRun: initConfig,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := bindFlagsToConfig(cmd.Flags(), appConfig); err != nil {
				logger.Fatalf(cmd.Context(), "Failed to parse flags: %v", err)
			}

			app.ExecuteDaemonCommand(cmd.Context(), appConfig)
		},
	}
)

// Execute executes the root command.
func Execute() {
	signals := []os.Signal{syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM}
	ctx, stop := signal.NotifyContext(context.Background(), signals...)

	defer func() {
		_ = logger.Logger().Sync()
	}()

	defer stop()

	go func() {
		defer stop()

		err := rootCmd.ExecuteContext(ctx)
		cobra.CheckErr(err)
	}()

	<-ctx.Done()
}

//nolint:gochecknoinits // Cobra requires the init function to set up flags before the command is executed.
func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configFilenameFromFlag,
		"config",
		"c",
		"",
		fmt.Sprintf("path to the configuration file (default is '%s')",
			config.DefaultConfigFilename))

	rootCmdFlags := rootCmd.Flags()

	rootCmdFlags.StringP(
		"listen",
		"l",
		"",
		"bind address of the HTTP control surface.")

	rootCmdFlags.StringP(
		"database",
		"d",
		"",
		"path to the SQLite catalog file (created if it doesn't exist).")

	rootCmdFlags.StringP(
		"sync-interval",
		"i",
		"",
		"period between scheduled sync cycles, for example: 15m, 1h.")

	rootCmdFlags.String(
		"download-timeout",
		"",
		"per-track download deadline, for example: 300s, 10m.")
}

func initConfig(cmd *cobra.Command, _ []string) {
	var err error

	appConfig, err = config.LoadConfig(configFilenameFromFlag)
	if err != nil {
		logger.Fatalf(cmd.Context(), "Failed to load configuration: %v", err)
	}

	if err = config.ValidateConfig(appConfig); err != nil {
		logger.Fatalf(cmd.Context(), "Invalid configuration: %v", err)
	}

	logger.SetLevel(appConfig.ParsedLogLevel)
}

func bindFlagsToConfig(flags *pflag.FlagSet, cfg *config.Config) error {
	if flag := flags.Lookup("listen"); flag != nil && flag.Changed {
		cfg.ListenAddr, _ = flags.GetString("listen")
	}

	if flag := flags.Lookup("database"); flag != nil && flag.Changed {
		cfg.DatabasePath, _ = flags.GetString("database")
	}

	if flag := flags.Lookup("sync-interval"); flag != nil && flag.Changed {
		cfg.SyncInterval, _ = flags.GetString("sync-interval")
	}

	if flag := flags.Lookup("download-timeout"); flag != nil && flag.Changed {
		cfg.DownloadTimeout, _ = flags.GetString("download-timeout")
	}

	return config.ValidateConfig(cfg)
}
