// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package checkpoint persists point-in-time TaskState snapshots so a
// recovery manager can roll back or restore a task after a failure.
package checkpoint

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a checkpoint id has no matching row.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is an append-only snapshot of a task's state.
type Checkpoint struct {
	ID        string          `json:"id"`
	TaskID    string          `json:"task_id"`
	SessionID string          `json:"session_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	State     json.RawMessage `json:"state"`
}

// New builds a Checkpoint for taskID with the caller-supplied id and a
// fresh timestamp, snapshotting state as JSON.
func New(id, taskID, sessionID string, state json.RawMessage) *Checkpoint {
	return &Checkpoint{
		ID:        id,
		TaskID:    taskID,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
		State:     state,
	}
}
