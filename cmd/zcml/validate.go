package main

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Pylons/pyramid-zcml/adapters/sqlite"
	"github.com/Pylons/pyramid-zcml/bootstrap"
	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/web"
	"github.com/Pylons/pyramid-zcml/ports"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the YAML configuration and the application's ZCML files.

Checks:
  - YAML syntax is valid
  - app.configure_zcml and everything it includes parses
  - Configuration actions commit without conflicts
  - Introspection database is writable (optional)

Examples:
  zcml validate
  zcml validate --config /etc/myapp/zcml.yaml --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDatabase bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if the introspection database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Validating %s...\n\n", cfgFile)

	if hasConfigFile() {
		fmt.Fprintf(out, "  %s Config file exists\n", checkMark)
	} else {
		fmt.Fprintf(out, "  %s Config file missing, using environment\n", checkMark)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "  %s Config syntax valid\n", crossMark)
		return err
	}
	fmt.Fprintf(out, "  %s Config syntax valid\n", checkMark)
	fmt.Fprintf(out, "  %s Package: %s (%s)\n", checkMark, cfg.App.Package, cfg.App.PackageDir)

	_, executed, err := bootstrap.Build(cfg, symbol.Default, zerolog.Nop(), ports.NopMetrics{}, web.AppOptions{})
	if err != nil {
		fmt.Fprintf(out, "  %s %s loads and commits\n", crossMark, cfg.App.ConfigureZCML)
		if action.IsConflict(err) {
			return fmt.Errorf("configuration conflict: %w", err)
		}
		return err
	}
	fmt.Fprintf(out, "  %s %s loads and commits\n", checkMark, cfg.App.ConfigureZCML)
	fmt.Fprintf(out, "  %s Actions committed: %d\n", checkMark, len(executed))
	for _, line := range categorySummary(executed) {
		fmt.Fprintf(out, "      %s\n", line)
	}

	if validateCheckDatabase {
		if err := checkDatabaseWritable(cfg.Introspection.DSN); err != nil {
			fmt.Fprintf(out, "  %s Database writable\n", crossMark)
			fmt.Fprintf(out, "      Error: %v\n", err)
		} else {
			fmt.Fprintf(out, "  %s Database writable\n", checkMark)
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration is valid.")
	return nil
}

// categorySummary counts executed actions by introspection category.
func categorySummary(executed []action.Action) []string {
	counts := make(map[string]int)
	for _, a := range executed {
		category := "other"
		if len(a.Introspectables) > 0 && a.Introspectables[0].Category != "" {
			category = a.Introspectables[0].Category
		}
		counts[category]++
	}
	lines := make([]string, 0, len(counts))
	for category, n := range counts {
		lines = append(lines, fmt.Sprintf("%s: %d", category, n))
	}
	sort.Strings(lines)
	return lines
}

func checkDatabaseWritable(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Migrate()
}
