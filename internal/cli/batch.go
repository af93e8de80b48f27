package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/reviewpilot/reviewpilot/internal/orchestrator"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Review all repositories that are due",
	Long: `Batch discovers nothing by itself; run "reviewpilot discover" first.
It reviews every tracked repository that is due: never reviewed, stale
beyond the review interval, or (with --failed) failed last time.
At most --concurrency pipelines run at once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		sel := orchestrator.Selector{Kind: orchestrator.SelectAllDue}
		if failed, _ := cmd.Flags().GetBool("failed"); failed {
			sel.Kind = orchestrator.SelectFailed
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		if resume, _ := cmd.Flags().GetBool("resume"); resume {
			rs, err := app.orch.Resume(cmd.Context())
			if err != nil {
				return err
			}
			if rs.Started > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %d interrupted reviews (%d succeeded, %d failed)\n",
					rs.Started, rs.Succeeded, rs.Failed)
			}
		}

		summary, err := app.orch.RunBatch(cmd.Context(), sel, concurrency)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Batch complete: %d started, %d succeeded, %d failed, %d skipped\n",
			summary.Started, summary.Succeeded, summary.Failed, summary.Skipped)
		return nil
	},
}

func init() {
	batchCmd.Flags().Bool("failed", false, "Select only repositories whose last review failed")
	batchCmd.Flags().Bool("resume", true, "Resume interrupted reviews before starting the batch")
	batchCmd.Flags().Int("concurrency", 0, "Max in-flight pipelines (default from config)")
}
