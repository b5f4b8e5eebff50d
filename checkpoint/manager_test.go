// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package checkpoint_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/checkpoint"
	"github.com/ado-project/adocore/checkpoint/memstore"
)

func TestCheckpointIdempotence(t *testing.T) {
	mgr := checkpoint.NewManager(memstore.New(), 0)
	state := json.RawMessage(`{"step":3}`)

	id, err := mgr.Checkpoint(context.Background(), "task-1", "session-1", state)
	require.NoError(t, err)

	restored, err := mgr.Restore(context.Background(), id)
	require.NoError(t, err)
	assert.JSONEq(t, string(state), string(restored))
}

func TestCheckpointEnforcesPerTaskCap(t *testing.T) {
	mgr := checkpoint.NewManager(memstore.New(), 3)
	ctx := context.Background()

	var lastID string
	for i := 0; i < 5; i++ {
		id, err := mgr.Checkpoint(ctx, "task-1", "", json.RawMessage(`{}`))
		require.NoError(t, err)
		lastID = id
	}

	list, err := mgr.ListCheckpoints(ctx, "task-1")
	require.NoError(t, err)
	assert.Len(t, list, 3)
	assert.Equal(t, lastID, list[0].ID)
}

func TestGetLatestCheckpointReturnsNotFoundWhenEmpty(t *testing.T) {
	mgr := checkpoint.NewManager(memstore.New(), 0)
	_, err := mgr.GetLatestCheckpoint(context.Background(), "unknown-task")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestStartAutoCheckpointPeriodicallySnapshots(t *testing.T) {
	mgr := checkpoint.NewManager(memstore.New(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	get := func() (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"n":1}`), nil
	}

	mgr.StartAutoCheckpoint(ctx, "task-auto", "", 10*time.Millisecond, get)
	time.Sleep(55 * time.Millisecond)
	mgr.StopAutoCheckpoint("task-auto")

	list, err := mgr.ListCheckpoints(context.Background(), "task-auto")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(list), 2)
}
