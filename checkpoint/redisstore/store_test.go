// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/checkpoint"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, time.Hour), mr
}

func TestRedisSaveAndLoad(t *testing.T) {
	store, _ := newTestStore(t)
	cp := checkpoint.New("cp-1", "task-1", "session-1", []byte(`{"n":1}`))

	require.NoError(t, store.Save(context.Background(), cp))

	loaded, err := store.Load(context.Background(), "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", loaded.TaskID)
	assert.JSONEq(t, `{"n":1}`, string(loaded.State))
}

func TestRedisListDescendingByCreatedAt(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	older := checkpoint.New("cp-old", "task-1", "", []byte(`{}`))
	older.CreatedAt = base
	newer := checkpoint.New("cp-new", "task-1", "", []byte(`{}`))
	newer.CreatedAt = base.Add(time.Minute)

	require.NoError(t, store.Save(ctx, older))
	require.NoError(t, store.Save(ctx, newer))

	list, err := store.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "cp-new", list[0].ID)
}

func TestRedisLoadMissingReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestRedisListPrunesExpiredFromIndex(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	cp := checkpoint.New("cp-1", "task-1", "", []byte(`{}`))
	require.NoError(t, store.Save(ctx, cp))

	mr.FastForward(2 * time.Hour)

	list, err := store.List(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRedisDeleteRemovesFromIndex(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	cp := checkpoint.New("cp-1", "task-1", "", []byte(`{}`))
	require.NoError(t, store.Save(ctx, cp))

	require.NoError(t, store.Delete(ctx, "cp-1"))

	list, err := store.List(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}
