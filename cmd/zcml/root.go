package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Pylons/pyramid-zcml/config"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zcml",
	Short: "Serve and inspect applications configured with ZCML",
	Long: `zcml loads an application's configure.zcml, commits the resulting
configuration actions and serves the application over HTTP.

Dotted names used in the ZCML files resolve against the symbols linked into
the binary, so applications usually build this command with their own
packages imported.

Quick start:
  zcml serve        # Load configure.zcml and start the server
  zcml validate     # Load and commit without serving

Inspection:
  zcml actions      # List the actions a configuration file produces
  zcml introspect   # Record and browse committed configurations`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "zcml.yaml", "config file path")
}

// loadConfig reads cfgFile, falling back to ZCML_* environment variables
// when the file does not exist.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}

func hasConfigFile() bool {
	_, err := os.Stat(cfgFile)
	return err == nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
