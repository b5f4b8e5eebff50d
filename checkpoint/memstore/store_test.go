// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/checkpoint"
)

func TestSaveAndLoad(t *testing.T) {
	store := New()
	cp := checkpoint.New("cp-1", "task-1", "", []byte(`{}`))

	require.NoError(t, store.Save(context.Background(), cp))

	loaded, err := store.Load(context.Background(), "cp-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", loaded.TaskID)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	_, err := New().Load(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestListDescendingByCreatedAt(t *testing.T) {
	store := New()
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

func TestDeleteRemovesFromIndex(t *testing.T) {
	store := New()
	ctx := context.Background()
	cp := checkpoint.New("cp-1", "task-1", "", []byte(`{}`))
	require.NoError(t, store.Save(ctx, cp))

	require.NoError(t, store.Delete(ctx, "cp-1"))

	list, err := store.List(ctx, "task-1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCleanupRemovesOlderThan(t *testing.T) {
	store := New()
	ctx := context.Background()

	old := checkpoint.New("cp-old", "task-1", "", []byte(`{}`))
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	fresh := checkpoint.New("cp-fresh", "task-1", "", []byte(`{}`))

	require.NoError(t, store.Save(ctx, old))
	require.NoError(t, store.Save(ctx, fresh))

	removed, err := store.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	list, err := store.List(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cp-fresh", list[0].ID)
}
