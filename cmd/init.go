package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tunesyncd/tunesyncd/internal/config"
	"github.com/tunesyncd/tunesyncd/internal/logger"
)

//nolint:gochecknoglobals // Cobra command requires a global definition for proper command-line parsing and execution.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file.",
	Long: `Writes a configuration file populated with every default, so the
settings are visible and editable without consulting the documentation.

The file location follows the --config flag, defaulting to '` + config.DefaultConfigFilename + `'
in the working directory.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		filename := configFilenameFromFlag
		if filename == "" {
			filename = config.DefaultConfigFilename
		}

		if err := config.SaveConfig(config.DefaultConfig(), filename); err != nil {
			logger.Fatalf(cmd.Context(), "Failed to write configuration: %v", err)
		}

		logger.Infof(cmd.Context(), "Wrote starter configuration to %s", filename)
	},
}

//nolint:gochecknoinits // Cobra requires the init function to set up commands.
func init() {
	rootCmd.AddCommand(initCmd)
}
