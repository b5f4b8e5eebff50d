// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package memstore is an in-memory workflow.Store, for tests and
// single-node deployments.
package memstore

import (
	"context"
	"sync"

	"github.com/ado-project/adocore/workflow"
)

// Store is an in-memory workflow.Store.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*workflow.Execution
}

// New builds an empty Store.
func New() *Store {
	return &Store{executions: make(map[string]*workflow.Execution)}
}

func clone(e *workflow.Execution) *workflow.Execution {
	cp := *e
	cp.History = append([]workflow.StepHistory(nil), e.History...)
	return &cp
}

// SaveExecution stores exec, replacing any prior entry for its
// WorkflowID.
func (s *Store) SaveExecution(ctx context.Context, exec *workflow.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[exec.WorkflowID] = clone(exec)
	return nil
}

// GetExecution returns a copy of workflowID's execution, or
// workflow.ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, workflowID string) (*workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[workflowID]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return clone(exec), nil
}

// UpdateExecution replaces workflowID's stored execution.
func (s *Store) UpdateExecution(ctx context.Context, exec *workflow.Execution) error {
	return s.SaveExecution(ctx, exec)
}

// ListExecutions returns copies of all stored executions, unordered.
func (s *Store) ListExecutions(ctx context.Context) ([]*workflow.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Execution, 0, len(s.executions))
	for _, e := range s.executions {
		out = append(out, clone(e))
	}
	return out, nil
}
