package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "stagecoach",
	Short: "stagecoach — a resilient content pipeline orchestrator",
	Long: `stagecoach drives content through a sequence of validation worker services,
wrapping every call in retries and a per-worker circuit breaker so one slow or
broken dependency never takes the whole pipeline down.

Checkpoints pause content for human review between phases; the API server
exposes execution status, checkpoint intervention, and per-worker telemetry.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to stagecoach config file")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(flowCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
