package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reviewpilot/reviewpilot/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, cleanup, err := newApp()
		if err != nil {
			return err
		}
		defer cleanup()

		data, err := yaml.Marshal(app.cfg)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		if app.cfgPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", app.cfgPath)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "# built-in defaults (no config file found)")
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path in use",
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if path == "" {
			path = config.ResolveDefaultPath()
		}
		if path == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "(none — using built-in defaults)")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
}
