package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion stamps the build version shown by the version command.
func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reviewpilot",
	Short: "reviewpilot — automated repository review pipelines",
	Long: `reviewpilot sweeps an owner's repositories, runs each through a durable
review pipeline (fetch, analyze, score, report, optionally propose a
change), and serves a local control API.

All state is stored in ~/.reviewpilot/ (SQLite). Interrupted reviews
resume at the beginning of their last incomplete stage.`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./reviewpilot.yaml, ~/.reviewpilot/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}
