// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package archive stores opaque checkpoint blobs in cold blob storage
// through the BlobArchiver interface, with CheckpointKey as the shared
// object layout. checkpoint.Manager does not call it: checkpoints pruned
// by the Manager's per-task cap are deleted, not archived.
package archive

import "context"

// BlobArchiver uploads and retrieves opaque checkpoint blobs keyed by
// an archive-assigned path, independent of which cloud backs it.
type BlobArchiver interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// CheckpointKey builds the conventional archive path for a task's
// checkpoint, so every backend lays objects out identically.
func CheckpointKey(taskID, checkpointID string) string {
	return "checkpoints/" + taskID + "/" + checkpointID + ".json"
}
