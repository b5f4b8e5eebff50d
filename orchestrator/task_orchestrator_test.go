// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/adapter"
	"github.com/ado-project/adocore/checkpoint"
	"github.com/ado-project/adocore/checkpoint/memstore"
	orc "github.com/ado-project/adocore/orchestrator"
	"github.com/ado-project/adocore/provider"
	"github.com/ado-project/adocore/recovery"
	"github.com/ado-project/adocore/state"
	"github.com/ado-project/adocore/state/sqlitestore"
)

// singleAdapterResolver always resolves to the same Adapter, regardless
// of provider id, for tests that only register one provider.
type singleAdapterResolver struct {
	ad adapter.Adapter
}

func (r singleAdapterResolver) ResolveAdapter(providerID string) (adapter.Adapter, error) {
	if r.ad == nil {
		return nil, fmt.Errorf("no adapter registered for %q", providerID)
	}
	return r.ad, nil
}

func newTestOrchestrator(t *testing.T, ad adapter.Adapter, opts orc.Options) (*orc.Orchestrator, *provider.Registry) {
	t.Helper()
	store, err := sqlitestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry := provider.NewRegistry()
	registry.Register(provider.Info{
		ID:      "codegen-1",
		Enabled: true,
		Capabilities: provider.Capabilities{
			CodeGeneration: true,
			Languages:      []string{"go"},
		},
	})

	recoveryMgr := recovery.NewManager(checkpoint.NewManager(memstore.New(), 0), recovery.RetryPolicy{})

	o := orc.NewOrchestrator(store, registry, provider.NewMatcher(), singleAdapterResolver{ad: ad}, recoveryMgr, opts)
	return o, registry
}

func waitForTaskTerminal(t *testing.T, o *orc.Orchestrator, taskID string) state.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := o.Status(context.Background(), taskID)
		require.NoError(t, err)
		if task.Status.IsTerminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task did not reach a terminal state in time")
	return state.Task{}
}

func TestSubmitRunsTaskToCompletion(t *testing.T) {
	ad := adapter.NewMockAdapter("codegen-1", []adapter.Capability{adapter.CapabilityCodeGeneration}, []adapter.Event{
		{Type: adapter.EventOutput, Output: "working..."},
		{Type: adapter.EventComplete, Output: "done"},
	})
	o, _ := newTestOrchestrator(t, ad, orc.Options{})

	task, err := o.Submit(context.Background(), state.TaskDefinition{Prompt: "add a test", ProjectKey: "proj"})
	require.NoError(t, err)
	assert.Equal(t, state.TaskPending, task.Status)

	final := waitForTaskTerminal(t, o, task.ID)
	assert.Equal(t, state.TaskCompleted, final.Status)
	assert.Equal(t, "done", final.Result)
}

func TestSubmitIsIdempotentPerClientID(t *testing.T) {
	ad := adapter.NewMockAdapter("codegen-1", []adapter.Capability{adapter.CapabilityCodeGeneration}, []adapter.Event{
		{Type: adapter.EventComplete, Output: "done"},
	})
	o, _ := newTestOrchestrator(t, ad, orc.Options{})

	def := state.TaskDefinition{ClientID: "client-123", Prompt: "do it", ProjectKey: "proj"}
	first, err := o.Submit(context.Background(), def)
	require.NoError(t, err)
	second, err := o.Submit(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestSubmitFailsWithNoProviderWhenConfigured(t *testing.T) {
	o, registry := newTestOrchestrator(t, nil, orc.Options{FailIfNoProvider: true})
	require.NoError(t, registry.SetEnabled("codegen-1", false))

	_, err := o.Submit(context.Background(), state.TaskDefinition{Prompt: "x", ProjectKey: "p"})
	assert.ErrorIs(t, err, orc.ErrNoProvider)
}

func TestSubscribeDeliversStartThenTerminalEvent(t *testing.T) {
	ad := adapter.NewMockAdapter("codegen-1", []adapter.Capability{adapter.CapabilityCodeGeneration}, []adapter.Event{
		{Type: adapter.EventProgress, Progress: 0.5},
		{Type: adapter.EventComplete, Output: "done"},
	})
	o, _ := newTestOrchestrator(t, ad, orc.Options{})

	task, err := o.Submit(context.Background(), state.TaskDefinition{Prompt: "x", ProjectKey: "p"})
	require.NoError(t, err)

	var types []adapter.EventType
	for ev := range o.Subscribe(task.ID) {
		types = append(types, ev.Type)
	}

	require.NotEmpty(t, types)
	assert.Equal(t, adapter.EventStart, types[0])
	assert.Equal(t, adapter.EventComplete, types[len(types)-1])
}

func TestSubmitMarksFailedOnUnrecoverableAdapterError(t *testing.T) {
	ad := adapter.NewMockAdapter("codegen-1", []adapter.Capability{adapter.CapabilityCodeGeneration}, []adapter.Event{
		{Type: adapter.EventError, Err: errors.New("fatal: repository not found")},
	})
	o, _ := newTestOrchestrator(t, ad, orc.Options{})

	task, err := o.Submit(context.Background(), state.TaskDefinition{Prompt: "x", ProjectKey: "p"})
	require.NoError(t, err)

	final := waitForTaskTerminal(t, o, task.ID)
	assert.Equal(t, state.TaskFailed, final.Status)
	assert.Contains(t, final.Error, "repository not found")
}

func TestCancelTransitionsQueuedTaskWithNoAssignedProvider(t *testing.T) {
	// No adapter needed: the provider starts disabled, so Submit leaves
	// the Task pending with no execution goroutine running, and Cancel
	// has nothing racing it.
	o, registry := newTestOrchestrator(t, nil, orc.Options{})
	require.NoError(t, registry.SetEnabled("codegen-1", false))

	task, err := o.Submit(context.Background(), state.TaskDefinition{Prompt: "x", ProjectKey: "p"})
	require.NoError(t, err)
	assert.Equal(t, state.TaskPending, task.Status)

	require.NoError(t, o.Cancel(context.Background(), task.ID))

	final, err := o.Status(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, state.TaskCancelled, final.Status)

	err = o.Cancel(context.Background(), task.ID)
	assert.ErrorIs(t, err, orc.ErrNotCancellable)
}
