package cli

import (
	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagecoach/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator API server",
	Long: `Start the HTTP API for executing pipelines, intervening on checkpoints,
and reading per-worker performance and circuit-breaker state.

Workers are probed lazily on first use; a worker that is down at startup
does not prevent the server from serving the other stages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Orchestrator.Server.Port
		}

		return web.NewServer(web.Opts{
			Engine:    rt.engine,
			Manager:   rt.manager,
			Sequences: rt.runner,
			Monitor:   rt.monitor,
			Database:  rt.database,
			Port:      port,
		}).Start()
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides config)")
}
