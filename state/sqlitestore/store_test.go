// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ado.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskCRUDRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := state.Task{
		ID:     "t1",
		Status: state.TaskPending,
		Definition: state.TaskDefinition{
			ClientID: "client-1",
			Prompt:   "print hello",
		},
	}
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, state.TaskPending, got.Status)
	require.Equal(t, "print hello", got.Definition.Prompt)

	byClient, err := s.GetTaskByClientID(ctx, "client-1")
	require.NoError(t, err)
	require.Equal(t, "t1", byClient.ID)

	got.Status = state.TaskRunning
	now := time.Now().UTC()
	got.StartedAt = &now
	require.NoError(t, s.UpdateTask(ctx, got))

	updated, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, state.TaskRunning, updated.Status)
	require.NotNil(t, updated.StartedAt)
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "missing")
	require.True(t, errors.Is(err, state.ErrNotFound))
}

func TestUsageQueryBoundedBySince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := state.UsageRecord{ProviderID: "claude", Timestamp: time.Now().Add(-48 * time.Hour), RequestCount: 1}
	recent := state.UsageRecord{ProviderID: "claude", Timestamp: time.Now(), RequestCount: 2}
	require.NoError(t, s.AppendUsage(ctx, old))
	require.NoError(t, s.AppendUsage(ctx, recent))

	records, err := s.QueryUsage(ctx, state.UsageQuery{ProviderID: "claude", Since: time.Now().Add(-1 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 2, records[0].RequestCount)
}

func TestCheckpointLatestForTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, progress := range []float64{0.25, 0.5, 0.75} {
		ts, err := state.EncodeTaskState(state.TaskState{TaskID: "t1", Progress: progress})
		require.NoError(t, err)
		cp := state.Checkpoint{
			ID:        "cp" + string(rune('0'+i)),
			TaskID:    "t1",
			SessionID: "s1",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
			State:     ts,
		}
		require.NoError(t, s.InsertCheckpoint(ctx, cp))
	}

	latest, err := s.LatestCheckpointForTask(ctx, "t1")
	require.NoError(t, err)
	decoded, err := state.DecodeTaskState(latest.State)
	require.NoError(t, err)
	require.Equal(t, 0.75, decoded.Progress)
}
