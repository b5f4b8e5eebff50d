// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package memstore is an in-memory checkpoint.Store for single-node and
// development use.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ado-project/adocore/checkpoint"
)

// Store is an in-memory checkpoint.Store.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]checkpoint.Checkpoint
	order map[string][]string // taskID -> checkpoint ids in insertion order
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		byID:  make(map[string]checkpoint.Checkpoint),
		order: make(map[string][]string),
	}
}

// Save implements checkpoint.Store.
func (s *Store) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[cp.ID] = *cp
	s.order[cp.TaskID] = append(s.order[cp.TaskID], cp.ID)
	return nil
}

// Load implements checkpoint.Store.
func (s *Store) Load(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[id]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return &cp, nil
}

// List implements checkpoint.Store, returning taskID's checkpoints
// descending by CreatedAt.
func (s *Store) List(ctx context.Context, taskID string) ([]checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[taskID]
	out := make([]checkpoint.Checkpoint, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.byID[id]; ok {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Delete implements checkpoint.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.byID[id]
	if !ok {
		return checkpoint.ErrNotFound
	}
	delete(s.byID, id)

	ids := s.order[cp.TaskID]
	for i, existing := range ids {
		if existing == id {
			s.order[cp.TaskID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Cleanup implements checkpoint.Store.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, cp := range s.byID {
		if cp.CreatedAt.Before(cutoff) {
			delete(s.byID, id)
			ids := s.order[cp.TaskID]
			for i, existing := range ids {
				if existing == id {
					s.order[cp.TaskID] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
			removed++
		}
	}
	return removed, nil
}
