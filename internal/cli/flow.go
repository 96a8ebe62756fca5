package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/stagecoach/internal/engine"
)

var flowCmd = &cobra.Command{
	Use:   "flow",
	Short: "Run and inspect pipeline executions",
}

var flowRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run content through the full pipeline and wait for the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		content, _ := cmd.Flags().GetString("content")
		file, _ := cmd.Flags().GetString("file")
		platform, _ := cmd.Flags().GetString("platform")
		asJSON, _ := cmd.Flags().GetBool("json")

		if content == "" && file == "" {
			return fmt.Errorf("provide --content or --file")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			content = string(data)
		}

		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		rt, err := buildRuntime(cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer rt.close()

		started := rt.engine.Start(content, platform)
		rt.engine.Wait()

		ex, err := rt.engine.Status(started.ID)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ex)
		}

		cmd.Printf("execution %s: %s\n", ex.ID, ex.Status)
		for _, name := range ex.StageSequence {
			if r, ok := ex.StageResults[name]; ok {
				cmd.Printf("  %-12s ok    %4dms  %d suggestions applied\n",
					name, r.DurationMs, r.SuggestionsApplied)
			} else if msg, ok := ex.StageErrors[name]; ok {
				cmd.Printf("  %-12s FAIL  %s\n", name, msg)
			} else {
				cmd.Printf("  %-12s skipped\n", name)
			}
		}
		if ex.ErrorMessage != "" {
			cmd.Printf("note: %s\n", ex.ErrorMessage)
		}
		cmd.Printf("took %s\n", ex.UpdatedAt.Sub(ex.CreatedAt).Round(time.Millisecond))

		if ex.Status != engine.StatusCompleted {
			return fmt.Errorf("pipeline %s", ex.Status)
		}
		return nil
	},
}

var flowStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated stage call statistics from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		stats, err := d.GetStageStats()
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			cmd.Println("no stage calls recorded")
			return nil
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].Stage < stats[j].Stage })
		cmd.Printf("%-12s %8s %8s %10s\n", "STAGE", "CALLS", "FAILS", "AVG MS")
		for _, s := range stats {
			cmd.Printf("%-12s %8d %8d %10.1f\n", s.Stage, s.Calls, s.Failures, s.AvgDurationMs)
		}
		return nil
	},
}

func init() {
	flowRunCmd.Flags().String("content", "", "content to run through the pipeline")
	flowRunCmd.Flags().String("file", "", "file containing content to run")
	flowRunCmd.Flags().String("platform", "", "target platform hint passed to workers")
	flowRunCmd.Flags().Bool("json", false, "print the full execution record as JSON")
	flowCmd.AddCommand(flowRunCmd)
	flowCmd.AddCommand(flowStatsCmd)
}
