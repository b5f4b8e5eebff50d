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

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ado-project/adocore/adapter"
	"github.com/ado-project/adocore/provider"
	"github.com/ado-project/adocore/recovery"
	"github.com/ado-project/adocore/state"
)

// ErrNoProvider is returned by Submit when no registered provider meets a
// task's requirements and the Orchestrator is configured to refuse rather
// than queue.
var ErrNoProvider = errors.New("orchestrator: no provider meets task requirements")

// ErrNotCancellable is returned by Cancel when taskID is already in a
// terminal state.
var ErrNotCancellable = errors.New("orchestrator: task is not in a cancellable state")

// AdapterResolver maps a provider id to the Adapter that drives it. The
// Orchestrator never constructs or owns adapters itself; it only asks the
// resolver for one once ProviderRouter has picked a provider.
type AdapterResolver interface {
	ResolveAdapter(providerID string) (adapter.Adapter, error)
}

// Options configures Orchestrator-wide policy that spec.md leaves to the
// deployer.
type Options struct {
	// FailIfNoProvider, when true, makes Submit return ErrNoProvider
	// instead of persisting an unassigned pending Task. Such a Task is
	// not started later by a registry change (new provider, re-enable).
	FailIfNoProvider bool
}

// Orchestrator is the TaskOrchestrator: Submit/Status/Cancel/Subscribe
// over Tasks, driving each through an Adapter chosen by ProviderRouter
// (provider.Registry + provider.Matcher) and routing attempt failures
// through recovery.Manager.
type Orchestrator struct {
	store    state.Store
	registry *provider.Registry
	matcher  *provider.Matcher
	adapters AdapterResolver
	recovery *recovery.Manager
	opts     Options

	mu          sync.Mutex
	subscribers map[string][]chan adapter.Event
	history     map[string][]adapter.Event
	cancels     map[string]context.CancelFunc
}

// NewOrchestrator wires a TaskOrchestrator over its collaborators. Any of
// store/registry/matcher/adapters/recoveryMgr being nil is a caller error:
// Submit always uses store, registry and matcher, Cancel always uses store
// and adapters, and the execution loop uses recoveryMgr. None of them is
// checked at construction.
func NewOrchestrator(store state.Store, registry *provider.Registry, matcher *provider.Matcher, adapters AdapterResolver, recoveryMgr *recovery.Manager, opts Options) *Orchestrator {
	return &Orchestrator{
		store:       store,
		registry:    registry,
		matcher:     matcher,
		adapters:    adapters,
		recovery:    recoveryMgr,
		opts:        opts,
		subscribers: make(map[string][]chan adapter.Event),
		history:     make(map[string][]adapter.Event),
		cancels:     make(map[string]context.CancelFunc),
	}
}

// requirementFromDefinition lifts the caller's free-form
// TaskDefinition.Requirements into a typed provider.Requirement. Unknown
// keys and wrong-typed values are ignored rather than rejected, since
// Requirements is documented as caller-supplied and best-effort.
func requirementFromDefinition(def state.TaskDefinition) provider.Requirement {
	var req provider.Requirement
	if def.Requirements == nil {
		return req
	}
	if caps, ok := def.Requirements["capabilities"].([]string); ok {
		req.Capabilities = caps
	}
	if langs, ok := def.Requirements["languages"].([]string); ok {
		req.Languages = langs
	}
	if n, ok := def.Requirements["minContextTokens"].(int); ok {
		req.MinContextTokens = n
	}
	if v, ok := def.Requirements["requireStreaming"].(bool); ok {
		req.RequireStreaming = v
	}
	if v, ok := def.Requirements["requireMCP"].(bool); ok {
		req.RequireMCP = v
	}
	if v, ok := def.Requirements["requireResume"].(bool); ok {
		req.RequireResume = v
	}
	return req
}

// Submit persists a new pending Task (or returns the existing one, if
// def.ClientID was already submitted), selects a provider via
// ProviderRouter, and — unless no provider qualifies and
// Options.FailIfNoProvider is set — starts its execution loop in the
// background. The returned Task reflects state as of submission; callers
// follow up with Status or Subscribe for progress.
func (o *Orchestrator) Submit(ctx context.Context, def state.TaskDefinition) (*state.Task, error) {
	if def.ClientID != "" {
		existing, err := o.store.GetTaskByClientID(ctx, def.ClientID)
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("orchestrator: idempotency lookup for client id %q: %w", def.ClientID, err)
		}
	}

	var enabled []provider.Info
	for _, p := range o.registry.GetAll() {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	best := o.matcher.FindBestMatch(enabled, requirementFromDefinition(def))
	if best == nil && o.opts.FailIfNoProvider {
		return nil, ErrNoProvider
	}

	sessionID := uuid.NewString()
	session := state.Session{
		ID:            sessionID,
		ProjectID:     def.ProjectKey,
		RepositoryKey: def.RepositoryPath,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if best != nil {
		session.ProviderID = best.Provider.ID
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("orchestrator: create session: %w", err)
	}

	task := state.Task{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Definition: def,
		Status:     state.TaskPending,
	}
	if best != nil {
		task.ProviderID = best.Provider.ID
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("orchestrator: create task: %w", err)
	}

	if best != nil {
		go o.run(task.ID)
	}

	return &task, nil
}

// Status returns taskID's current persisted Task, or state.ErrNotFound.
func (o *Orchestrator) Status(ctx context.Context, taskID string) (state.Task, error) {
	return o.store.GetTask(ctx, taskID)
}

// Cancel transitions taskID from {pending, running, paused} to cancelled
// and sends a best-effort interrupt to its adapter, if one is currently
// executing it.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if !task.Status.CanTransition(state.TaskCancelled) {
		return ErrNotCancellable
	}

	o.mu.Lock()
	cancel, running := o.cancels[taskID]
	o.mu.Unlock()
	if running {
		cancel()
	}

	if ad, rerr := o.adapters.ResolveAdapter(task.ProviderID); rerr == nil {
		_ = ad.Interrupt(taskID)
	}

	task.Status = state.TaskCancelled
	if err := o.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("orchestrator: mark cancelled: %w", err)
	}
	o.emit(taskID, adapter.Event{Type: adapter.EventInterrupt, Reason: "cancelled by caller"})
	o.closeSubscribers(taskID)
	return nil
}

// Subscribe returns a channel of taskID's events, in submission order.
// A subscriber attached after earlier events were emitted first receives
// those via replay from the in-memory log, then continues live. The
// channel closes once a terminal event (complete, error, or interrupt)
// has been delivered.
func (o *Orchestrator) Subscribe(taskID string) <-chan adapter.Event {
	o.mu.Lock()
	defer o.mu.Unlock()

	past := o.history[taskID]
	// Sized to hold every past event without blocking, since they're
	// seeded synchronously below while still holding the lock that
	// serializes against emit — the only way to guarantee a subscriber
	// sees replay-then-live events in true submission order.
	ch := make(chan adapter.Event, len(past)+32)
	for _, ev := range past {
		ch <- ev
	}

	if len(past) > 0 && isTerminalEvent(past[len(past)-1]) {
		close(ch)
		return ch
	}

	o.subscribers[taskID] = append(o.subscribers[taskID], ch)
	return ch
}

func isTerminalEvent(ev adapter.Event) bool {
	switch ev.Type {
	case adapter.EventComplete, adapter.EventError, adapter.EventInterrupt:
		return true
	default:
		return false
	}
}

// emit records ev in taskID's replay log and fans it out to live
// subscribers, closing and detaching them once ev is terminal.
func (o *Orchestrator) emit(taskID string, ev adapter.Event) {
	o.mu.Lock()
	o.history[taskID] = append(o.history[taskID], ev)
	subs := o.subscribers[taskID]
	terminal := isTerminalEvent(ev)
	if terminal {
		delete(o.subscribers, taskID)
	}
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// A slow subscriber doesn't stall task execution; it can
			// always catch up via Subscribe's replay-from-history path.
		}
		if terminal {
			close(ch)
		}
	}
}

func (o *Orchestrator) closeSubscribers(taskID string) {
	o.mu.Lock()
	subs := o.subscribers[taskID]
	delete(o.subscribers, taskID)
	o.mu.Unlock()
	for _, ch := range subs {
		close(ch)
	}
}

// run is one task's execution loop: it retries attempts until the task
// reaches a terminal state, routing each attempt's failure through
// recovery.Manager per spec.md's execution algorithm.
func (o *Orchestrator) run(taskID string) {
	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[taskID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, taskID)
		o.mu.Unlock()
		cancel()
	}()

	for attempt := 1; ; attempt++ {
		task, err := o.store.GetTask(ctx, taskID)
		if err != nil {
			log.Printf("[orchestrator.Orchestrator] %s: load before attempt %d: %v", taskID, attempt, err)
			return
		}
		if task.Status == state.TaskCancelled {
			return
		}

		ad, err := o.adapters.ResolveAdapter(task.ProviderID)
		if err != nil {
			o.fail(ctx, task, fmt.Errorf("resolve adapter for provider %q: %w", task.ProviderID, err))
			return
		}

		startedAt := time.Now().UTC()
		task.Status = state.TaskRunning
		task.StartedAt = &startedAt
		if err := o.store.UpdateTask(ctx, task); err != nil {
			log.Printf("[orchestrator.Orchestrator] %s: mark running: %v", taskID, err)
			return
		}

		// Adapters, not the Orchestrator, emit EventStart — it is the
		// first element of the channel Execute returns, forwarded like
		// any other event below.
		events, err := ad.Execute(ctx, adapter.Task{
			ID:             task.ID,
			Prompt:         task.Definition.Prompt,
			ProjectKey:     task.Definition.ProjectKey,
			RepositoryPath: task.Definition.RepositoryPath,
			SessionID:      task.SessionID,
			ContextFile:    ad.GetContextFile(),
		})
		if err != nil {
			if o.recoverOrFail(ctx, &task, err, attempt) {
				continue
			}
			return
		}

		final, recoverable := o.forward(taskID, events)
		switch {
		case final == nil:
			// Channel closed without a terminal event; treat as a
			// silent failure so the task doesn't hang forever.
			if o.recoverOrFail(ctx, &task, errors.New("adapter closed its event stream without a terminal event"), attempt) {
				continue
			}
			return

		case final.Type == adapter.EventComplete:
			completedAt := time.Now().UTC()
			task.Status = state.TaskCompleted
			task.CompletedAt = &completedAt
			task.Result = final.Output
			if err := o.store.UpdateTask(ctx, task); err != nil {
				log.Printf("[orchestrator.Orchestrator] %s: mark completed: %v", taskID, err)
			}
			if err := o.store.AppendUsage(ctx, state.UsageRecord{
				ProviderID:   task.ProviderID,
				AccessMode:   state.AccessAPI,
				Timestamp:    completedAt,
				RequestCount: 1,
			}); err != nil {
				log.Printf("[orchestrator.Orchestrator] %s: record usage: %v", taskID, err)
			}
			return

		case final.Type == adapter.EventInterrupt:
			task.Status = state.TaskCancelled
			if err := o.store.UpdateTask(ctx, task); err != nil {
				log.Printf("[orchestrator.Orchestrator] %s: mark cancelled: %v", taskID, err)
			}
			return

		default: // EventError
			if recoverable && o.recoverOrFail(ctx, &task, final.Err, attempt) {
				continue
			}
			return
		}
	}
}

// forward reads events until the channel closes or a terminal event
// arrives, re-emitting each to subscribers, and reports that terminal
// event back to run. recoverable is true iff the stream ended on an
// EventError (the only terminal kind run may retry).
func (o *Orchestrator) forward(taskID string, events <-chan adapter.Event) (final *adapter.Event, recoverable bool) {
	for ev := range events {
		o.emit(taskID, ev)
		if isTerminalEvent(ev) {
			evCopy := ev
			return &evCopy, ev.Type == adapter.EventError
		}
	}
	return nil, false
}

// recoverOrFail routes failure through recovery.Manager. A retry
// strategy is handled by run's own attempt loop re-invoking the adapter,
// so it needs no operation closure here; rollback/restore/abort never
// consult one either (ExecuteRecovery's op parameter is retry-only), so
// nil is always a safe value to pass through. It returns true when run
// should attempt again, false once the task has been marked failed.
func (o *Orchestrator) recoverOrFail(ctx context.Context, task *state.Task, failure error, attempt int) bool {
	if o.recovery.DetermineStrategy(failure, attempt) == recovery.StrategyRetry {
		return true
	}

	outcome, err := o.recovery.ExecuteRecovery(ctx, task.ID, failure, attempt, nil)
	if err != nil {
		o.fail(ctx, *task, fmt.Errorf("recovery: %w", err))
		return false
	}
	if outcome.Success && outcome.Strategy != recovery.StrategyAbort {
		return true
	}
	o.fail(ctx, *task, failure)
	return false
}

// fail marks task failed, persists it, and emits a terminal error event.
func (o *Orchestrator) fail(ctx context.Context, task state.Task, cause error) {
	task.Status = state.TaskFailed
	task.Error = cause.Error()
	if err := o.store.UpdateTask(ctx, task); err != nil {
		log.Printf("[orchestrator.Orchestrator] %s: mark failed: %v", task.ID, err)
	}
	o.emit(task.ID, adapter.Event{Type: adapter.EventError, Err: cause})
}
