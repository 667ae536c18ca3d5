// Package cmd provides the CLI commands for gymgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repclub/gymgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gymgate",
	Short: "gymgate - gym dashboard authorization service",
	Long: `gymgate decides who may see which part of a gym management dashboard.

It folds sign-in state, the member's profile, a static capability catalog
and granular permission rules into a single access decision, throttles
sensitive actions like password resets, locks out repeated login failures,
and writes an audit trail of every decision.

Quick start:
  1. Create a config file: gymgate.yaml
  2. Run: gymgate start

Configuration:
  Config is loaded from gymgate.yaml in the current directory,
  $HOME/.gymgate/, or /etc/gymgate/.

  Environment variables can override config values with the GYMGATE_ prefix.
  Example: GYMGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the API server
  stop        Stop the running server
  check       Evaluate one access request offline
  catalog     Print the capability catalog
  hash-key    Generate a hash for an API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gymgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
