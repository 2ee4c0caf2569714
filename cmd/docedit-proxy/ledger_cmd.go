package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wordassist/docedit-proxy/internal/config"
	"github.com/wordassist/docedit-proxy/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Session ledger utilities",
}

var pruneRetention string

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete ledger rows older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		retention := cfg.Ledger.Retention
		if pruneRetention != "" {
			retention, err = time.ParseDuration(pruneRetention)
			if err != nil {
				return fmt.Errorf("invalid --retention: %w", err)
			}
		}
		if retention <= 0 {
			return fmt.Errorf("retention must be positive")
		}

		l, err := ledger.Open(cfg.Ledger.Path, 0, zerolog.Nop())
		if err != nil {
			return err
		}
		defer l.Close()

		n, err := ledger.NewScheduler(l, "", retention, zerolog.Nop()).RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d session(s) older than %s\n", n, retention)
		return nil
	},
}

func init() {
	ledgerPruneCmd.Flags().StringVar(&pruneRetention, "retention", "", "override retention window (e.g. 720h)")
	ledgerCmd.AddCommand(ledgerPruneCmd)
	rootCmd.AddCommand(ledgerCmd)
}
