package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Sweep the configured owner's repositories into the store",
	Long: `Discover lists the configured owner's repositories from the hosting API
and upserts them into the local store. Metadata of known repositories is
refreshed; their pipeline state is never touched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := app.orch.Discover(cmd.Context(), app.host, app.cfg.GitHub)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tracking %d repositories for %s\n", n, app.cfg.GitHub.Owner)
		return nil
	},
}
