package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagecoach/internal/checkpoint"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect and intervene on checkpoints",
	Long: `Inspect checkpoint records and record interventions from the terminal.
These commands operate on the checkpoint storage configured in
stagecoach.yaml; with file or redis storage they see the same records as
a running API server. Worker calls belong to the server process, so
creating checkpoints happens over the API, not here.`,
}

// openManager builds a read-and-intervene manager over the configured
// storage. It carries no invokers: the CLI never starts worker calls.
func openManager() (*checkpoint.Manager, error) {
	cfg, err := loadValidConfig()
	if err != nil {
		return nil, err
	}
	backend, err := checkpointBackend(cfg.Orchestrator.Checkpoints)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewManager(checkpoint.ManagerOpts{Backend: backend}), nil
}

var checkpointListCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpoints with worker calls in flight",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		m, err := openManager()
		if err != nil {
			return err
		}
		var cps []*checkpoint.Checkpoint
		if all {
			cps, err = m.List()
		} else {
			cps, err = m.ListActive()
		}
		if err != nil {
			return err
		}
		if len(cps) == 0 {
			cmd.Println("no checkpoints")
			return nil
		}
		cmd.Printf("%-36s %-13s %-9s %s\n", "ID", "LABEL", "STATUS", "CREATED")
		for _, cp := range cps {
			cmd.Printf("%-36s %-13s %-9s %s\n",
				cp.ID, cp.Label, cp.Status, cp.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a checkpoint's result and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		cp, err := m.Get(args[0])
		if err != nil {
			return err
		}
		cmd.Printf("checkpoint %s (%s): %s\n", cp.ID, cp.Label, cp.Status)
		if cp.Error != "" {
			cmd.Printf("error: %s\n", cp.Error)
		}
		if cp.Result != nil {
			cmd.Printf("result: %d rules applied, %d suggestions, %d violations\n",
				cp.Result.RuleCount, len(cp.Result.Suggestions), len(cp.Result.Violations))
		}
		if cp.Feedback != "" {
			cmd.Printf("feedback: %s\n", cp.Feedback)
		}
		if cp.Finalized {
			cmd.Printf("finalized by: %s\n", cp.FinalizedBy)
		}
		cmd.Println("history:")
		for _, ev := range cp.Events {
			cmd.Printf("  %s  %-10s %s %s\n",
				ev.At.Format("15:04:05"), ev.Type, ev.Actor, ev.Detail)
		}
		cmd.Println("content:")
		cmd.Println(cp.Content)
		return nil
	},
}

var checkpointInterveneCmd = &cobra.Command{
	Use:   "intervene <id>",
	Short: "Record feedback on a checkpoint, optionally finalizing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input, _ := cmd.Flags().GetString("input")
		finalize, _ := cmd.Flags().GetBool("finalize")
		actor, _ := cmd.Flags().GetString("actor")

		m, err := openManager()
		if err != nil {
			return err
		}
		cp, err := m.Intervene(args[0], checkpoint.InterveneOpts{
			Input:    input,
			Finalize: finalize,
			Actor:    actor,
		})
		if err != nil {
			return fmt.Errorf("intervene on checkpoint: %w", err)
		}
		cmd.Printf("checkpoint %s is now %s\n", cp.ID, cp.Status)
		return nil
	},
}

func init() {
	checkpointListCmd.Flags().Bool("all", false, "include finished checkpoints")
	checkpointInterveneCmd.Flags().String("input", "", "reviewer input to record")
	checkpointInterveneCmd.Flags().Bool("finalize", false, "force the checkpoint to completed")
	checkpointInterveneCmd.Flags().String("actor", "", "who is intervening")
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointInterveneCmd)
}
