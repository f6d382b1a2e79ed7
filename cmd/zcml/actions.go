package main

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Pylons/pyramid-zcml/bootstrap"
	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/core/formatter"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/zcml"
	"github.com/Pylons/pyramid-zcml/ports"
)

var actionsCmd = &cobra.Command{
	Use:   "actions [file]",
	Short: "List the configuration actions a ZCML file produces",
	Long: `Parse a ZCML file and list its pending actions in the order a commit
would execute them. Nothing is executed.

The file defaults to app.configure_zcml. Conflicting actions are reported
as an error.

Examples:
  zcml actions
  zcml actions admin.zcml --format json
  zcml actions --columns discriminator,info`,
	Args: cobra.MaximumNArgs(1),
	RunE: runActions,
}

var (
	outputFormat  string
	outputColumns []string
	outputNoHdr   bool
)

// actionsListing describes action records for the formatters.
var actionsListing = formatter.Listing{
	Kind:    "actions",
	Columns: []string{"position", "discriminator", "order", "category", "info"},
	Hidden:  []string{"include_path", "title"},
}

func init() {
	rootCmd.AddCommand(actionsCmd)
	addOutputFlags(actionsCmd)
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFormat, "format", "o", "table", "output format: "+strings.Join(formatter.List(), ", "))
	cmd.Flags().StringSliceVar(&outputColumns, "columns", nil, "columns to show")
	cmd.Flags().BoolVar(&outputNoHdr, "no-header", false, "omit the table header")
}

func outputFormatter() (formatter.Formatter, formatter.FormatOptions, error) {
	f, ok := formatter.Get(outputFormat)
	if !ok {
		return nil, formatter.FormatOptions{}, fmt.Errorf("unknown format %q (available: %s)", outputFormat, strings.Join(formatter.List(), ", "))
	}
	return f, formatter.FormatOptions{Columns: outputColumns, NoHeader: outputNoHdr}, nil
}

func runActions(cmd *cobra.Command, args []string) error {
	f, opts, err := outputFormatter()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	spec := cfg.App.ConfigureZCML
	if len(args) == 1 {
		spec = args[0]
	}

	c, err := bootstrap.NewConfigurator(cfg, symbol.Default, zerolog.Nop(), ports.NopMetrics{})
	if err != nil {
		return err
	}
	if _, err := zcml.Load(c, spec); err != nil {
		return err
	}
	resolved, err := action.Resolve(c.Registry.ActionState().Actions)
	if err != nil {
		return err
	}

	records := make([]map[string]any, 0, len(resolved))
	for _, rec := range bootstrap.ActionRecords("", resolved) {
		records = append(records, actionRecordMap(rec))
	}
	return f.FormatList(cmd.OutOrStdout(), actionsListing, records, opts)
}

func actionRecordMap(rec ports.ActionRecord) map[string]any {
	m := map[string]any{
		"position":      rec.Position,
		"discriminator": rec.Discriminator,
		"order":         rec.Order,
		"category":      rec.Category,
		"title":         rec.Title,
		"info":          rec.Info,
		"include_path":  rec.IncludePath,
	}
	if rec.Data != nil {
		m["data"] = rec.Data
	}
	return m
}
