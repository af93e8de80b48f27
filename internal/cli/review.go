package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review <owner/name>",
	Short: "Review a single repository",
	Long: `Review runs one repository through the full pipeline: fetch, analyze,
score, report, and (when enabled) propose a change. A repository whose
previous run was interrupted resumes at its last incomplete stage.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}

		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		summary, err := app.orch.ReviewOne(cmd.Context(), owner, name)
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			repo, gerr := app.store.GetRepository(cmd.Context(), owner, name)
			if gerr == nil {
				return fmt.Errorf("review of %s/%s failed at stage %s (%s)",
					owner, name, repo.LastErrorStage, repo.LastErrorKind)
			}
			return fmt.Errorf("review of %s/%s failed", owner, name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Review of %s/%s complete\n", owner, name)
		return nil
	},
}

func splitRepoArg(arg string) (owner, name string, err error) {
	parts := strings.SplitN(arg, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected owner/name, got %q", arg)
	}
	return parts[0], parts[1], nil
}
