package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wordassist/docedit-proxy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and validate the configuration",
	Long: `Load the configuration the same way serve does (defaults, config file,
.env, environment) and report any problem.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "✓ Configuration valid")
		fmt.Fprintf(out, "  listen address: %s\n", cfg.Server.ListenAddress)
		fmt.Fprintf(out, "  default model:  %s\n", cfg.Upstream.DefaultModel)
		fmt.Fprintf(out, "  metrics:        %t\n", cfg.Metrics.Enabled)
		fmt.Fprintf(out, "  ledger:         %t\n", cfg.Ledger.Enabled)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
