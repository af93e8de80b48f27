package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/reviewpilot/reviewpilot/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of all tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		repos, err := app.store.ListRepositories(cmd.Context(), store.RepoFilter{IncludeArchived: true})
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(repos, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(repos) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No repositories tracked. Run \"reviewpilot discover\" first.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-40s %-18s %-12s %s\n", "REPOSITORY", "STATE", "LAST ERROR", "REVIEWED")
		fmt.Fprintf(w, "%-40s %-18s %-12s %s\n",
			strings.Repeat("-", 40), strings.Repeat("-", 18), strings.Repeat("-", 12), strings.Repeat("-", 8))
		for _, r := range repos {
			reviewed := "never"
			if !r.LastReviewedAt.IsZero() {
				reviewed = relTime(r.LastReviewedAt)
			}
			lastErr := r.LastErrorKind
			if lastErr == "" {
				lastErr = "-"
			}
			name := r.FullName()
			if len(name) > 40 {
				name = name[:37] + "..."
			}
			fmt.Fprintf(w, "%-40s %-18s %-12s %s\n", name, r.PipelineState, lastErr, reviewed)
		}
		return nil
	},
}

func relTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func init() {
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
