// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package redisregistry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/scheduler"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, time.Minute), mr
}

func TestRegisterAndGetWorker(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "w1", []string{"go", "python"}))

	w, ok, err := r.GetWorker(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, scheduler.WorkerIdle, w.Status)
	assert.ElementsMatch(t, []string{"go", "python"}, w.Capabilities)
}

func TestHeartbeatExpiresWorker(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, "w1", nil))

	mr.FastForward(2 * time.Minute)

	_, ok, err := r.GetWorker(ctx, "w1")
	require.NoError(t, err)
	assert.False(t, ok, "worker heartbeat key should have expired")
}

func TestUpdateHeartbeatOnUnknownWorkerReturnsFalse(t *testing.T) {
	r, _ := newTestRegistry(t)
	ok, err := r.UpdateHeartbeat(context.Background(), "ghost", scheduler.WorkerBusy, 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListWorkersPrunesExpiredFromIndex(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, "w1", nil))
	require.NoError(t, r.Register(ctx, "w2", nil))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, r.Register(ctx, "w2", nil)) // refresh w2 only

	workers, err := r.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, "w2", workers[0].ID)
}

func TestGetIdleWorkersFiltersByStatus(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, "idle1", nil))
	require.NoError(t, r.Register(ctx, "busy1", nil))
	ok, err := r.UpdateHeartbeat(ctx, "busy1", scheduler.WorkerBusy, 2)
	require.NoError(t, err)
	require.True(t, ok)

	idle, err := r.GetIdleWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "idle1", idle[0].ID)
}
