package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reviewpilot/reviewpilot/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker pool and the control API",
	Long: `Serve starts the long-running process: the dispatcher worker pool, the
HTTP control API, and a config file watcher for hot reloads. Reviews
interrupted by a previous crash are resumed on startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := app.cfgWatch.Start(); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		defer app.cfgWatch.Stop()

		// Pick up reviews a dead process left mid-pipeline without
		// holding up the dispatcher and the API.
		app.orch.ResumeInBackground(ctx)

		app.disp.Start(ctx)
		defer app.disp.Stop()

		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = app.cfg.Web.Addr
		}
		srv := web.NewServer(app.store, app.orch, app.disp, app.gw, addr, app.log)
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
}
