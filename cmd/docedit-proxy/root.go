package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docedit-proxy",
	Short: "Streaming edit proxy for the document add-in",
	Long: `docedit-proxy relays natural-language edit requests from the add-in to an
OpenAI-compatible chat completion endpoint and answers with structured edit
operations, streaming progress over Server-Sent Events.

Without an API key in the request it answers from simple keyword rules.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults and environment only when empty)")
}
