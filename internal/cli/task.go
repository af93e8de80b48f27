package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage dispatched tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <kind>",
	Short: "Enqueue a task",
	Long: `Add enqueues a task for the worker pool. Built-in kinds:

  review_repo    {"owner": ..., "name": ...}  run one review pipeline
  open_pr        {"owner": ..., "name": ...}  re-propose the latest report
  report_status  {"owner": ..., "name": ...}  return pipeline state

Note the task only executes while "reviewpilot serve" is running.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		payload, _ := cmd.Flags().GetString("payload")
		priority, _ := cmd.Flags().GetInt("priority")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		task, err := app.disp.Enqueue(cmd.Context(), args[0], payload, priority, timeout)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Enqueued task %s (kind=%s priority=%d)\n", task.ID, task.Kind, task.Priority)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks in queue order",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		state, _ := cmd.Flags().GetString("state")
		tasks, err := app.store.ListTasks(cmd.Context(), state)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(tasks, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
			return nil
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-36s %-14s %-4s %-10s %s\n", "ID", "KIND", "PRI", "STATE", "ENQUEUED")
		fmt.Fprintf(w, "%-36s %-14s %-4s %-10s %s\n",
			strings.Repeat("-", 36), strings.Repeat("-", 14), strings.Repeat("-", 4),
			strings.Repeat("-", 10), strings.Repeat("-", 8))
		for _, t := range tasks {
			fmt.Fprintf(w, "%-36s %-14s %-4d %-10s %s\n",
				t.ID, t.Kind, t.Priority, t.State, relTime(t.EnqueuedAt))
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		task, err := app.store.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		data, _ := json.MarshalIndent(task, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := app.disp.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for task %s\n", args[0])
		return nil
	},
}

func init() {
	taskAddCmd.Flags().String("payload", "{}", "JSON payload for the handler")
	taskAddCmd.Flags().Int("priority", 0, "Higher runs first; FIFO within a tier")
	taskAddCmd.Flags().Duration("timeout", 10*time.Minute, "Deadline for the task; 0 means none")

	taskListCmd.Flags().String("state", "", "Filter by state (pending, running, succeeded, failed, timed_out, cancelled)")
	taskListCmd.Flags().String("format", "text", "Output format: text or json")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskCancelCmd)
}
