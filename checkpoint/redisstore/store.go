// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package redisstore backs checkpoint.Store with Redis, useful when
// checkpoints only need to survive a single task's lifetime rather than
// indefinitely (TTL-bounded retention instead of explicit Cleanup).
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ado-project/adocore/checkpoint"
)

const defaultTTL = 7 * 24 * time.Hour

func checkpointKey(id string) string { return "ado:checkpoint:" + id }
func taskIndexKey(taskID string) string { return "ado:checkpoint:task:" + taskID }

// Store implements checkpoint.Store against Redis: each checkpoint is a
// JSON blob under its own key with a TTL, indexed per-task in a sorted
// set scored by CreatedAt so List can return newest-first without a
// separate read of every checkpoint.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// Ensure Store implements checkpoint.Store.
var _ checkpoint.Store = (*Store)(nil)

// New builds a Store. ttl <= 0 uses defaultTTL (7 days).
func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	blob, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("redisstore: marshal checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, checkpointKey(cp.ID), blob, s.ttl)
	pipe.ZAdd(ctx, taskIndexKey(cp.TaskID), &redis.Z{Score: float64(cp.CreatedAt.UnixNano()), Member: cp.ID})
	pipe.Expire(ctx, taskIndexKey(cp.TaskID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: save checkpoint: %w", err)
	}
	return nil
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	blob, err := s.client.Get(ctx, checkpointKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, checkpoint.ErrNotFound
		}
		return nil, fmt.Errorf("redisstore: load checkpoint: %w", err)
	}

	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(blob, &cp); err != nil {
		return nil, fmt.Errorf("redisstore: decode checkpoint: %w", err)
	}
	return &cp, nil
}

// List implements checkpoint.Store, descending by CreatedAt. Ids whose
// blob already expired are pruned from the index lazily.
func (s *Store) List(ctx context.Context, taskID string) ([]checkpoint.Checkpoint, error) {
	ids, err := s.client.ZRevRange(ctx, taskIndexKey(taskID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list index: %w", err)
	}

	var out []checkpoint.Checkpoint
	for _, id := range ids {
		cp, err := s.Load(ctx, id)
		if errors.Is(err, checkpoint.ErrNotFound) {
			s.client.ZRem(ctx, taskIndexKey(taskID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *cp)
	}
	return out, nil
}

// Delete implements checkpoint.Store. The id is removed from every
// task index it might appear in by first loading it for its TaskID.
func (s *Store) Delete(ctx context.Context, id string) error {
	cp, err := s.Load(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, checkpointKey(id))
	pipe.ZRem(ctx, taskIndexKey(cp.TaskID), id)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: delete checkpoint: %w", err)
	}
	return nil
}

// Cleanup is a no-op: Redis already expires checkpoints via TTL, so
// there is nothing left to sweep explicitly.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}
