// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package checkpoint

import (
	"context"
	"time"
)

// Store is the synchronous checkpoint persistence contract. List
// returns checkpoints descending by CreatedAt so index 0 is always the
// latest. Cleanup deletes checkpoints older than olderThan and returns
// the number removed.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, id string) (*Checkpoint, error)
	List(ctx context.Context, taskID string) ([]Checkpoint, error)
	Delete(ctx context.Context, id string) error
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}
