// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package pgstore backs checkpoint.Store with PostgreSQL, the remote
// relational backend used by distributed workers.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ado-project/adocore/checkpoint"
)

// Store implements checkpoint.Store against a checkpoints table:
//
//	CREATE TABLE checkpoints (
//	    id         TEXT PRIMARY KEY,
//	    task_id    TEXT NOT NULL,
//	    session_id TEXT,
//	    state      JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_checkpoints_task_id ON checkpoints (task_id, created_at DESC);
type Store struct {
	db *sql.DB
}

// Ensure Store implements checkpoint.Store.
var _ checkpoint.Store = (*Store)(nil)

// New wraps an already-opened *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, task_id, session_id, state, created_at) VALUES ($1, $2, $3, $4, $5)`,
		cp.ID, cp.TaskID, cp.SessionID, []byte(cp.State), cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("pgstore: save checkpoint: %w", err)
	}
	return nil
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, session_id, state, created_at FROM checkpoints WHERE id = $1`, id)

	var cp checkpoint.Checkpoint
	var sessionID sql.NullString
	var state []byte
	if err := row.Scan(&cp.ID, &cp.TaskID, &sessionID, &state, &cp.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("pgstore: load checkpoint: %w", err)
	}
	cp.SessionID = sessionID.String
	cp.State = state
	return &cp, nil
}

// List implements checkpoint.Store, descending by created_at.
func (s *Store) List(ctx context.Context, taskID string) ([]checkpoint.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, session_id, state, created_at FROM checkpoints WHERE task_id = $1 ORDER BY created_at DESC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []checkpoint.Checkpoint
	for rows.Next() {
		var cp checkpoint.Checkpoint
		var sessionID sql.NullString
		var state []byte
		if err := rows.Scan(&cp.ID, &cp.TaskID, &sessionID, &state, &cp.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan checkpoint: %w", err)
		}
		cp.SessionID = sessionID.String
		cp.State = state
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete checkpoint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: rows affected: %w", err)
	}
	if n == 0 {
		return checkpoint.ErrNotFound
	}
	return nil
}

// Cleanup implements checkpoint.Store.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgstore: cleanup checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgstore: rows affected: %w", err)
	}
	return int(n), nil
}
