// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ado-project/adocore/checkpoint"
)

// Manager implements withRetry/createRecoveryPoint/rollback/restore/
// determineStrategy/executeRecovery from spec.md §4.6. It satisfies
// scheduler.RetryExecutor structurally, so a StageScheduler configured
// with FailureRetry can use a Manager directly.
type Manager struct {
	checkpoints *checkpoint.Manager
	policy      RetryPolicy

	mu     sync.Mutex
	points map[string][]RecoveryPoint // stack per task, last element is top
}

// NewManager builds a Manager over checkpoints using policy. A zero
// RetryPolicy is replaced with DefaultRetryPolicy.
func NewManager(checkpoints *checkpoint.Manager, policy RetryPolicy) *Manager {
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}
	return &Manager{
		checkpoints: checkpoints,
		policy:      policy,
		points:      make(map[string][]RecoveryPoint),
	}
}

// WithRetry attempts op up to policy.MaxAttempts times, retrying only
// errors in the default retryable set, with exponential backoff capped
// at policy.MaxDelay. It returns the last error if no attempt succeeds
// or ctx is cancelled mid-backoff.
func (m *Manager) WithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) || attempt == m.policy.MaxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.policy.delayFor(attempt)):
		}
	}
	return lastErr
}

// CreateRecoveryPoint persists state as a Checkpoint and pushes a
// RecoveryPoint referencing it onto taskID's rollback stack.
func (m *Manager) CreateRecoveryPoint(ctx context.Context, taskID, sessionID string, state json.RawMessage, metadata map[string]any) (*RecoveryPoint, error) {
	checkpointID, err := m.checkpoints.Checkpoint(ctx, taskID, sessionID, state)
	if err != nil {
		return nil, fmt.Errorf("recovery: create checkpoint: %w", err)
	}

	rp := RecoveryPoint{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		CheckpointID: checkpointID,
		State:        state,
		Timestamp:    time.Now().UTC(),
		Metadata:     metadata,
	}

	m.mu.Lock()
	m.points[taskID] = append(m.points[taskID], rp)
	m.mu.Unlock()

	return &rp, nil
}

// Rollback pops up to steps recovery points for taskID, never leaving
// fewer than one remaining when at least one existed.
func (m *Manager) Rollback(taskID string, steps int) (*RollbackResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stack := m.points[taskID]
	if len(stack) == 0 {
		return &RollbackResult{Success: false, Strategy: StrategyRollback, RolledBack: 0}, nil
	}

	maxPoppable := len(stack) - 1
	toPop := steps
	if toPop > maxPoppable {
		toPop = maxPoppable
	}
	if toPop < 0 {
		toPop = 0
	}

	m.points[taskID] = stack[:len(stack)-toPop]

	return &RollbackResult{Success: true, Strategy: StrategyRollback, RolledBack: toPop}, nil
}

// Restore reads checkpointID and appends a new RecoveryPoint reflecting
// the restored state onto taskID's stack.
func (m *Manager) Restore(ctx context.Context, taskID, checkpointID string) (*RecoveryPoint, error) {
	state, err := m.checkpoints.Restore(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("recovery: restore checkpoint: %w", err)
	}

	rp := RecoveryPoint{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		CheckpointID: checkpointID,
		State:        state,
		Timestamp:    time.Now().UTC(),
	}

	m.mu.Lock()
	m.points[taskID] = append(m.points[taskID], rp)
	m.mu.Unlock()

	return &rp, nil
}

// GetRecoveryPoints returns taskID's current rollback stack, bottom to
// top.
func (m *Manager) GetRecoveryPoints(taskID string) []RecoveryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecoveryPoint, len(m.points[taskID]))
	copy(out, m.points[taskID])
	return out
}

// DetermineStrategy classifies err given the number of prior attempts,
// in the spec's documented priority order: retry, then rollback, then
// restore, then abort. An error matching none of the documented signals
// defaults to abort, since an unclassified failure is not safe to retry
// or roll back blindly.
func (m *Manager) DetermineStrategy(err error, attempts int) Strategy {
	switch {
	case isRetryable(err) && attempts < m.policy.MaxAttempts:
		return StrategyRetry
	case indicatesStuck(err):
		return StrategyRollback
	case indicatesCorruptState(err):
		return StrategyRestore
	case indicatesFatal(err):
		return StrategyAbort
	default:
		return StrategyAbort
	}
}

// ExecuteRecovery routes taskID's recovery according to
// DetermineStrategy. When the strategy is retry, op is re-invoked
// through WithRetry; rollback pops one recovery point; restore reads
// taskID's latest checkpoint; abort takes no action.
func (m *Manager) ExecuteRecovery(ctx context.Context, taskID string, failure error, attempts int, op func(ctx context.Context) error) (*RecoveryOutcome, error) {
	strategy := m.DetermineStrategy(failure, attempts)

	switch strategy {
	case StrategyRetry:
		if op == nil {
			return &RecoveryOutcome{Strategy: strategy, Success: false, Detail: "no retry operation supplied"}, nil
		}
		if err := m.WithRetry(ctx, op); err != nil {
			return &RecoveryOutcome{Strategy: strategy, Success: false, Detail: err.Error()}, nil
		}
		return &RecoveryOutcome{Strategy: strategy, Success: true}, nil

	case StrategyRollback:
		result, err := m.Rollback(taskID, 1)
		if err != nil {
			return nil, err
		}
		return &RecoveryOutcome{Strategy: strategy, Success: result.Success}, nil

	case StrategyRestore:
		latest, err := m.checkpoints.GetLatestCheckpoint(ctx, taskID)
		if err != nil {
			return &RecoveryOutcome{Strategy: strategy, Success: false, Detail: err.Error()}, nil
		}
		if _, err := m.Restore(ctx, taskID, latest.ID); err != nil {
			return &RecoveryOutcome{Strategy: strategy, Success: false, Detail: err.Error()}, nil
		}
		return &RecoveryOutcome{Strategy: strategy, Success: true}, nil

	default: // StrategyAbort
		return &RecoveryOutcome{Strategy: strategy, Success: false, Detail: failure.Error()}, nil
	}
}
