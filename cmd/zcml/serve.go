package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Pylons/pyramid-zcml/bootstrap"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the application server",
	Long: `Load the application's ZCML configuration and serve it.

The server will:
  - Load configuration from zcml.yaml (or --config)
  - Or load configuration from ZCML_* environment variables
  - Load and commit app.configure_zcml
  - Serve the resulting routes and views

Environment variables:
  ZCML_APP_PACKAGE          - Application package name (default: app)
  ZCML_APP_PACKAGE_DIR      - Package directory (default: .)
  ZCML_CONFIGURE_ZCML       - Configuration file (default: configure.zcml)
  ZCML_SERVER_PORT          - Server port (default: 6543)
  ZCML_RELOAD               - Rebuild when .zcml files change
  ZCML_LOG_LEVEL            - Log level: debug, info, warn, error

Examples:
  zcml serve
  zcml serve --config /etc/myapp/zcml.yaml
  zcml serve --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of the YAML configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := bootstrap.Options{}
	if hasConfigFile() && hotReload {
		// Hot reload only works with a config file
		opts.ConfigPath = cfgFile
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !hasConfigFile() {
			fmt.Fprintln(cmd.OutOrStdout(), "Running with environment variables (no config file)")
		}
		opts.Config = cfg
	}

	app, err := bootstrap.New(opts)
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
