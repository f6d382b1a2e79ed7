package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Pylons/pyramid-zcml/adapters/idgen"
	"github.com/Pylons/pyramid-zcml/adapters/sqlite"
	"github.com/Pylons/pyramid-zcml/bootstrap"
	"github.com/Pylons/pyramid-zcml/core/formatter"
	"github.com/Pylons/pyramid-zcml/core/symbol"
	"github.com/Pylons/pyramid-zcml/core/web"
	"github.com/Pylons/pyramid-zcml/ports"
)

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Record and browse committed configurations",
	Long: `Committed configurations are stored in the introspection database
(introspection.dsn). The server records a run on every (re)build when
introspection is enabled; "record" does the same from the command line.

Examples:
  zcml introspect record
  zcml introspect runs --limit 5
  zcml introspect actions 3f6c0d2e-... --format yaml`,
}

var introspectRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Commit the configuration and store it as a run",
	Args:  cobra.NoArgs,
	RunE:  runIntrospectRecord,
}

var introspectRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runIntrospectRuns,
}

var introspectActionsCmd = &cobra.Command{
	Use:   "actions <run-id>",
	Short: "List the actions executed by a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntrospectActions,
}

var (
	introspectDSN   string
	introspectLimit int
)

var runsListing = formatter.Listing{
	Kind:    "runs",
	Columns: []string{"id", "source", "actions", "created_at"},
}

func init() {
	rootCmd.AddCommand(introspectCmd)
	introspectCmd.AddCommand(introspectRecordCmd, introspectRunsCmd, introspectActionsCmd)

	introspectCmd.PersistentFlags().StringVar(&introspectDSN, "dsn", "", "introspection database (default: introspection.dsn)")
	introspectRunsCmd.Flags().IntVar(&introspectLimit, "limit", 20, "maximum number of runs (0 = all)")
	addOutputFlags(introspectRunsCmd)
	addOutputFlags(introspectActionsCmd)
}

func openStore() (*sqlite.DB, *sqlite.IntrospectionStore, error) {
	dsn := introspectDSN
	if dsn == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, nil, err
		}
		dsn = cfg.Introspection.DSN
	}
	db, err := sqlite.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, sqlite.NewIntrospectionStore(db), nil
}

func runIntrospectRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, executed, err := bootstrap.Build(cfg, symbol.Default, zerolog.Nop(), ports.NopMetrics{}, web.AppOptions{})
	if err != nil {
		return err
	}

	db, store, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	run := ports.Run{
		ID:        idgen.UUID{}.New(),
		Source:    cfg.App.ConfigureZCML,
		Actions:   len(executed),
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveRun(commandContext(cmd), run, bootstrap.ActionRecords(run.ID, executed)); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Recorded run %s (%d actions)\n", checkMark, run.ID, run.Actions)
	return nil
}

func runIntrospectRuns(cmd *cobra.Command, args []string) error {
	f, opts, err := outputFormatter()
	if err != nil {
		return err
	}
	db, store, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := store.Runs(commandContext(cmd), introspectLimit)
	if err != nil {
		return err
	}
	records := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		records = append(records, map[string]any{
			"id":         r.ID,
			"source":     r.Source,
			"actions":    r.Actions,
			"created_at": r.CreatedAt.Format(time.RFC3339),
		})
	}
	return f.FormatList(cmd.OutOrStdout(), runsListing, records, opts)
}

func runIntrospectActions(cmd *cobra.Command, args []string) error {
	f, opts, err := outputFormatter()
	if err != nil {
		return err
	}
	db, store, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	actions, err := store.Actions(commandContext(cmd), args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	records := make([]map[string]any, 0, len(actions))
	for _, a := range actions {
		records = append(records, actionRecordMap(a))
	}
	return f.FormatList(cmd.OutOrStdout(), actionsListing, records, opts)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
