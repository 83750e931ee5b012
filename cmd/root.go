// Package cmd defines the CLI commands for the scanner executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/config"
	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scanner",
		Short: "A compliance scanner for consent and privacy obligations in web applications.",
		Long: `scanner crawls a web application with a headless browser, runs a set of
compliance detectors against every discovered page, and produces scored
findings. It can run as a long-lived service with an HTTP API and live
progress streaming, or execute a single scan from the command line.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus SCANNER_* environment)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())

	return cmd
}

// loadConfig reads configuration for a subcommand, honoring the --config
// flag.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildLogger constructs the process logger from config.
func buildLogger(cfg config.Config) (*zap.Logger, func(), error) {
	l, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return l, func() { _ = l.Sync() }, nil
}
