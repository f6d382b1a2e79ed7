package sqlite_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/Pylons/pyramid-zcml/adapters/sqlite"
	"github.com/Pylons/pyramid-zcml/ports"
)

func setupTestDB(t *testing.T) (*sqlite.DB, func()) {
	t.Helper()

	f, err := os.CreateTemp("", "zcml-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlite.Open(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		os.Remove(path)
		t.Fatalf("migrate: %v", err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(path)
	}

	return db, cleanup
}

func TestMigrate_Idempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestIntrospectionStore_SaveAndRead(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewIntrospectionStore(db)
	ctx := context.Background()

	run := ports.Run{ID: "run-1", Source: "/app/configure.zcml", CreatedAt: time.Now()}
	actions := []ports.ActionRecord{
		{
			Discriminator: "('utility', 'ICache', '')",
			Info:          `File "/app/configure.zcml", line 3.2, <utility>`,
			IncludePath:   "/app/configure.zcml",
			Category:      "utilities",
			Title:         "utility ICache",
			Data:          map[string]any{"name": ""},
		},
		{Discriminator: "('route', 'home')", Order: -10, Category: "routes"},
	}

	if err := store.SaveRun(ctx, run, actions); err != nil {
		t.Fatalf("save run: %v", err)
	}

	runs, err := store.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Actions != 2 {
		t.Errorf("Actions = %d, want 2", runs[0].Actions)
	}
	if runs[0].Source != run.Source {
		t.Errorf("Source = %s, want %s", runs[0].Source, run.Source)
	}

	got, err := store.Actions(ctx, "run-1")
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(actions) = %d, want 2", len(got))
	}
	if got[0].Position != 0 || got[1].Position != 1 {
		t.Errorf("positions = %d,%d", got[0].Position, got[1].Position)
	}
	if got[0].Data["name"] != "" {
		t.Errorf("Data = %v", got[0].Data)
	}
	if got[1].Order != -10 {
		t.Errorf("Order = %d, want -10", got[1].Order)
	}
	if got[1].Data != nil {
		t.Errorf("empty data should decode to nil, got %v", got[1].Data)
	}
}

func TestIntrospectionStore_RunsNewestFirst(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewIntrospectionStore(db)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		run := ports.Run{ID: id, Source: "configure.zcml", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.SaveRun(ctx, run, nil); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	runs, err := store.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("runs = %+v", runs)
	}

	all, err := store.Runs(ctx, 0)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestIntrospectionStore_DuplicateRunRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewIntrospectionStore(db)
	ctx := context.Background()
	run := ports.Run{ID: "dup", Source: "x", CreatedAt: time.Now()}

	if err := store.SaveRun(ctx, run, []ports.ActionRecord{{Discriminator: "one"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveRun(ctx, run, []ports.ActionRecord{{Discriminator: "two"}, {Discriminator: "three"}}); err == nil {
		t.Fatal("expected duplicate run id to fail")
	}

	got, err := store.Actions(ctx, "dup")
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(got) != 1 || got[0].Discriminator != "one" {
		t.Errorf("actions = %+v", got)
	}
}

func TestIntrospectionStore_UnknownRun(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewIntrospectionStore(db)
	if _, err := store.Actions(context.Background(), "missing"); !errors.Is(err, sqlite.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestOpen_Memory(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := sqlite.NewIntrospectionStore(db)
	ctx := context.Background()
	if err := store.SaveRun(ctx, ports.Run{ID: "m", Source: "x", CreatedAt: time.Now()}, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	runs, err := store.Runs(ctx, 0)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs = %v, %v", runs, err)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewIntrospectionStore(db)
	ctx := context.Background()
	run := ports.Run{ID: "fk", Source: "x", CreatedAt: time.Now()}
	if err := store.SaveRun(ctx, run, []ports.ActionRecord{{Discriminator: "a"}, {Discriminator: "b"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO config_actions (run_id, position) VALUES ('nope', 0)`); err == nil {
		t.Error("insert for unknown run should violate the foreign key")
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM config_runs WHERE id = 'fk'`); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM config_actions WHERE run_id = 'fk'`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d actions left after deleting their run", n)
	}
}
