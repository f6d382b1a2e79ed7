package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Pylons/pyramid-zcml/ports"
)

// IntrospectionStore implements ports.IntrospectionStore using SQLite.
type IntrospectionStore struct {
	db *DB
}

var _ ports.IntrospectionStore = (*IntrospectionStore)(nil)

// NewIntrospectionStore creates a new SQLite introspection store.
func NewIntrospectionStore(db *DB) *IntrospectionStore {
	return &IntrospectionStore{db: db}
}

// SaveRun stores a run and its actions in one transaction.
func (s *IntrospectionStore) SaveRun(ctx context.Context, run ports.Run, actions []ports.ActionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO config_runs (id, source, actions, created_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Source, len(actions), run.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO config_actions
			(run_id, position, discriminator, action_order, info, include_path, category, title, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare action insert: %w", err)
	}
	defer stmt.Close()

	for i, a := range actions {
		data := []byte("{}")
		if len(a.Data) > 0 {
			data, err = json.Marshal(a.Data)
			if err != nil {
				return fmt.Errorf("encode action %d data: %w", i, err)
			}
		}
		if _, err := stmt.ExecContext(ctx, run.ID, i, a.Discriminator, a.Order,
			a.Info, a.IncludePath, a.Category, a.Title, string(data)); err != nil {
			return fmt.Errorf("insert action %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *IntrospectionStore) Runs(ctx context.Context, limit int) ([]ports.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, actions, created_at
		FROM config_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ports.Run
	for rows.Next() {
		var r ports.Run
		if err := rows.Scan(&r.ID, &r.Source, &r.Actions, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Actions returns the actions of a run in execution order.
func (s *IntrospectionStore) Actions(ctx context.Context, runID string) ([]ports.ActionRecord, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM config_runs WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, position, discriminator, action_order, info, include_path, category, title, data
		FROM config_actions
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ports.ActionRecord
	for rows.Next() {
		var (
			a    ports.ActionRecord
			data string
		)
		if err := rows.Scan(&a.RunID, &a.Position, &a.Discriminator, &a.Order,
			&a.Info, &a.IncludePath, &a.Category, &a.Title, &data); err != nil {
			return nil, err
		}
		if data != "" && data != "{}" {
			if err := json.Unmarshal([]byte(data), &a.Data); err != nil {
				return nil, fmt.Errorf("decode action %d data: %w", a.Position, err)
			}
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
