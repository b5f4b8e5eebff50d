// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemArchiverPutGetDelete(t *testing.T) {
	a := NewMemArchiver()
	ctx := context.Background()
	key := CheckpointKey("task-1", "cp-1")

	require.NoError(t, a.Put(ctx, key, []byte("snapshot")))

	data, err := a.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(data))

	require.NoError(t, a.Delete(ctx, key))
	_, err = a.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpointKeyLayout(t *testing.T) {
	assert.Equal(t, "checkpoints/task-1/cp-1.json", CheckpointKey("task-1", "cp-1"))
}
