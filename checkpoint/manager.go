// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPerTaskCap bounds how many checkpoints Manager keeps for a
// single task before pruning the oldest.
const DefaultPerTaskCap = 20

// StateGetter produces the current serialized state for a task, used
// by the optional auto-checkpoint timer.
type StateGetter func() (json.RawMessage, error)

// Manager wraps a Store with per-task cap enforcement and an optional
// auto-checkpoint timer.
type Manager struct {
	store      Store
	perTaskCap int

	mu      sync.Mutex
	tickers map[string]*time.Ticker
	stop    map[string]chan struct{}
}

// NewManager builds a Manager over store. perTaskCap <= 0 uses
// DefaultPerTaskCap.
func NewManager(store Store, perTaskCap int) *Manager {
	if perTaskCap <= 0 {
		perTaskCap = DefaultPerTaskCap
	}
	return &Manager{
		store:      store,
		perTaskCap: perTaskCap,
		tickers:    make(map[string]*time.Ticker),
		stop:       make(map[string]chan struct{}),
	}
}

// Checkpoint persists state for taskID and enforces perTaskCap by
// deleting the oldest checkpoints above the limit.
func (m *Manager) Checkpoint(ctx context.Context, taskID, sessionID string, state json.RawMessage) (string, error) {
	cp := New(uuid.NewString(), taskID, sessionID, state)
	if err := m.store.Save(ctx, cp); err != nil {
		return "", fmt.Errorf("checkpoint: save: %w", err)
	}

	existing, err := m.store.List(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("checkpoint: list after save: %w", err)
	}
	if len(existing) > m.perTaskCap {
		for _, old := range existing[m.perTaskCap:] {
			if err := m.store.Delete(ctx, old.ID); err != nil {
				return "", fmt.Errorf("checkpoint: prune oldest: %w", err)
			}
		}
	}

	return cp.ID, nil
}

// Restore loads checkpoint id's state, or ErrNotFound.
func (m *Manager) Restore(ctx context.Context, checkpointID string) (json.RawMessage, error) {
	cp, err := m.store.Load(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	return cp.State, nil
}

// GetLatestCheckpoint returns the most recent checkpoint for taskID, or
// ErrNotFound if none exist.
func (m *Manager) GetLatestCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error) {
	list, err := m.store.List(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// ListCheckpoints returns taskID's checkpoints descending by CreatedAt.
func (m *Manager) ListCheckpoints(ctx context.Context, taskID string) ([]Checkpoint, error) {
	return m.store.List(ctx, taskID)
}

// StartAutoCheckpoint checkpoints taskID every interval by calling get,
// until StopAutoCheckpoint is called or ctx is cancelled.
func (m *Manager) StartAutoCheckpoint(ctx context.Context, taskID, sessionID string, interval time.Duration, get StateGetter) {
	m.mu.Lock()
	if _, exists := m.tickers[taskID]; exists {
		m.mu.Unlock()
		return
	}
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	m.tickers[taskID] = ticker
	m.stop[taskID] = stop
	m.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				state, err := get()
				if err != nil {
					continue
				}
				_, _ = m.Checkpoint(ctx, taskID, sessionID, state)
			}
		}
	}()
}

// StopAutoCheckpoint stops the auto-checkpoint timer for taskID, if any.
func (m *Manager) StopAutoCheckpoint(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stop, ok := m.stop[taskID]; ok {
		close(stop)
		delete(m.stop, taskID)
		delete(m.tickers, taskID)
	}
}
