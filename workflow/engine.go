// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ado-project/adocore/checkpoint"
	"github.com/ado-project/adocore/metrics"
)

// ErrActivityNameRequired is returned when an activity step has no
// ActivityName.
var ErrActivityNameRequired = errors.New("workflow: activity name required")

// ErrActivityNotFound is returned when a step names an unregistered
// activity.
var ErrActivityNotFound = errors.New("workflow: activity not found")

// ErrWorkflowNotFound is returned for operations on an unknown
// workflow or definition name.
var ErrWorkflowNotFound = errors.New("workflow: not found")

// Event is emitted to subscribers for audit/telemetry as execution
// progresses.
type Event struct {
	WorkflowID string
	Type       string
	Detail     string
	Timestamp  time.Time
}

// defaultApprovalTokenTTL bounds how long a signed HITL approval
// request stays valid before SubmitDecisionWithToken rejects it.
const defaultApprovalTokenTTL = 24 * time.Hour

// Engine executes registered WorkflowDefinitions: steps run in order,
// activities retry per policy, checkpoints are written per strategy,
// and HITL steps pause for external approval.
type Engine struct {
	store         Store
	checkpoints   *checkpoint.Manager
	approvalSecret []byte

	mu          sync.Mutex
	definitions map[string]WorkflowDefinition
	activities  map[string]ActivityDefinition
	cancels     map[string]context.CancelFunc
	approvals   map[string]chan ApprovalDecision
	subscribers []func(Event)

	metricsMu sync.Mutex
	metrics   Metrics

	promMetrics *metrics.Registry
}

// SetMetrics attaches a Registry that the engine updates as a side
// effect alongside its own in-memory Metrics() snapshot. Optional: an
// Engine with no Registry behaves exactly as before.
func (e *Engine) SetMetrics(m *metrics.Registry) {
	e.promMetrics = m
}

// NewEngine builds an Engine persisting to store and checkpointing
// through checkpoints (nil disables checkpointing). approvalSecret
// signs HITL approval tokens; pass nil if SubmitDecisionWithToken will
// not be used.
func NewEngine(store Store, checkpoints *checkpoint.Manager, approvalSecret []byte) *Engine {
	return &Engine{
		store:          store,
		checkpoints:    checkpoints,
		approvalSecret: approvalSecret,
		definitions:    make(map[string]WorkflowDefinition),
		activities:     make(map[string]ActivityDefinition),
		cancels:        make(map[string]context.CancelFunc),
		approvals:      make(map[string]chan ApprovalDecision),
	}
}

// RegisterActivity adds def to the engine's activity registry.
func (e *Engine) RegisterActivity(def ActivityDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = def
}

// RegisterWorkflow adds def to the engine's workflow registry.
func (e *Engine) RegisterWorkflow(def WorkflowDefinition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.definitions[def.Name] = def
}

// Subscribe registers fn to receive engine events.
func (e *Engine) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers = append(e.subscribers, fn)
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	subs := append([]func(Event){}, e.subscribers...)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// StartWorkflow begins executing the named registered workflow with
// input and returns its initial Execution immediately; steps continue
// running asynchronously.
func (e *Engine) StartWorkflow(ctx context.Context, name string, input map[string]any) (*Execution, error) {
	e.mu.Lock()
	def, ok := e.definitions[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, name)
	}

	exec := &Execution{
		WorkflowID:     uuid.NewString(),
		RunID:          uuid.NewString(),
		DefinitionName: name,
		Status:         StatusRunning,
		Input:          input,
		StartedAt:      time.Now().UTC(),
	}
	if err := e.store.SaveExecution(ctx, exec); err != nil {
		return nil, err
	}

	e.metricsMu.Lock()
	e.metrics.WorkflowsStarted++
	e.metricsMu.Unlock()
	if e.promMetrics != nil {
		e.promMetrics.WorkflowsStarted.Inc()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[exec.WorkflowID] = cancel
	e.mu.Unlock()

	e.emit(Event{WorkflowID: exec.WorkflowID, Type: "started", Timestamp: time.Now().UTC()})
	go e.run(runCtx, def, exec)

	return exec, nil
}

// run drives exec through def.Steps starting at exec.CurrentStepIndex.
func (e *Engine) run(ctx context.Context, def WorkflowDefinition, exec *Execution) {
	for exec.CurrentStepIndex < len(def.Steps) {
		select {
		case <-ctx.Done():
			exec.Status = StatusCancelled
			_ = e.store.UpdateExecution(context.Background(), exec)
			if e.promMetrics != nil {
				e.promMetrics.WorkflowsCompleted.WithLabelValues(string(StatusCancelled)).Inc()
			}
			return
		default:
		}

		step := def.Steps[exec.CurrentStepIndex]
		output, err := e.executeStep(ctx, def, exec, step)

		history := StepHistory{StepID: step.ID, Name: step.Name, StartedAt: time.Now().UTC()}
		if err != nil {
			// A step cut short by CancelWorkflow leaves the workflow cancelled.
			status := StatusFailed
			if ctx.Err() != nil {
				status = StatusCancelled
			}
			history.Status = "failed"
			history.Error = err.Error()
			exec.History = append(exec.History, history)
			exec.Status = status
			exec.Error = err.Error()
			_ = e.store.UpdateExecution(context.Background(), exec)
			if e.promMetrics != nil {
				e.promMetrics.WorkflowsCompleted.WithLabelValues(string(status)).Inc()
			}
			e.emit(Event{WorkflowID: exec.WorkflowID, Type: string(status), Detail: err.Error(), Timestamp: time.Now().UTC()})
			return
		}

		history.Status = "completed"
		history.Output = output
		history.EndedAt = time.Now().UTC()
		exec.History = append(exec.History, history)
		exec.Output = output
		exec.CurrentStepIndex++

		if def.CheckpointStrategy == CheckpointEveryStep || step.RequiresCheckpoint {
			e.writeCheckpoint(ctx, exec)
		}

		if err := e.store.UpdateExecution(context.Background(), exec); err != nil {
			log.Printf("[workflow.Engine] failed to persist %s: %v", exec.WorkflowID, err)
		}
	}

	exec.Status = StatusCompleted
	now := time.Now().UTC()
	exec.EndedAt = &now

	e.metricsMu.Lock()
	e.metrics.WorkflowsCompleted++
	e.metrics.AvgWorkflowDuration = avgDuration(e.metrics.AvgWorkflowDuration, e.metrics.WorkflowsCompleted, now.Sub(exec.StartedAt))
	e.metricsMu.Unlock()
	if e.promMetrics != nil {
		e.promMetrics.WorkflowsCompleted.WithLabelValues(string(StatusCompleted)).Inc()
	}
	// Persisted after the metrics so a reader that sees the completed
	// status also sees them counted.
	_ = e.store.UpdateExecution(context.Background(), exec)

	e.emit(Event{WorkflowID: exec.WorkflowID, Type: "completed", Timestamp: now})
}

func avgDuration(prevAvg time.Duration, completedCount int64, latest time.Duration) time.Duration {
	if completedCount <= 1 {
		return latest
	}
	n := float64(completedCount)
	return time.Duration((float64(prevAvg)*(n-1) + float64(latest)) / n)
}

func (e *Engine) writeCheckpoint(ctx context.Context, exec *Execution) {
	if e.checkpoints == nil {
		return
	}
	state, err := json.Marshal(exec)
	if err != nil {
		return
	}
	if _, err := e.checkpoints.Checkpoint(ctx, exec.WorkflowID, exec.RunID, state); err != nil {
		log.Printf("[workflow.Engine] checkpoint failed for %s: %v", exec.WorkflowID, err)
		return
	}
	e.metricsMu.Lock()
	e.metrics.CheckpointsCreated++
	e.metricsMu.Unlock()
	if e.promMetrics != nil {
		e.promMetrics.CheckpointsCreated.Inc()
	}
}

// executeStep dispatches step by its Type, after first resolving any
// human-approval gate the step requires.
func (e *Engine) executeStep(ctx context.Context, def WorkflowDefinition, exec *Execution, step WorkflowStep) (map[string]any, error) {
	if step.RequiresHumanApproval && def.EnableHITL {
		if _, err := e.awaitApproval(ctx, exec, step); err != nil {
			return nil, err
		}
	}

	switch step.Type {
	case StepActivity:
		return e.executeActivity(ctx, def, exec, step)
	case StepTimer:
		return e.executeTimer(ctx, step)
	case StepSignal:
		e.emit(Event{WorkflowID: exec.WorkflowID, Type: "signal:" + step.SignalName, Timestamp: time.Now().UTC()})
		return map[string]any{"signal": step.SignalName}, nil
	case StepDecision:
		return map[string]any{}, nil
	case StepChildWorkflow:
		return e.executeChildWorkflow(ctx, step)
	default:
		return map[string]any{}, nil
	}
}

func (e *Engine) executeActivity(ctx context.Context, def WorkflowDefinition, exec *Execution, step WorkflowStep) (map[string]any, error) {
	if step.ActivityName == "" {
		return nil, ErrActivityNameRequired
	}
	e.mu.Lock()
	activity, ok := e.activities[step.ActivityName]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, step.ActivityName)
	}

	policy := def.RetryPolicy
	if step.RetryPolicy != nil {
		policy = *step.RetryPolicy
	}
	if activity.RetryPolicy != nil {
		policy = *activity.RetryPolicy
	}
	if policy.MaximumAttempts <= 0 {
		policy.MaximumAttempts = 1
	}

	actCtx := ActivityContext{WorkflowID: exec.WorkflowID, RunID: exec.RunID, StepID: step.ID}

	var lastErr error
	for attempt := 1; attempt <= policy.MaximumAttempts; attempt++ {
		e.metricsMu.Lock()
		e.metrics.ActivitiesExecuted++
		e.metricsMu.Unlock()
		if e.promMetrics != nil {
			e.promMetrics.ActivitiesExecuted.Inc()
		}

		output, err := activity.Handler(actCtx, exec.Input)
		if err == nil {
			return output, nil
		}
		lastErr = err

		if isNonRetryable(err, policy.NonRetryableErrors) || attempt == policy.MaximumAttempts {
			return nil, lastErr
		}

		e.metricsMu.Lock()
		e.metrics.ActivitiesRetried++
		e.metricsMu.Unlock()
		if e.promMetrics != nil {
			e.promMetrics.ActivitiesRetried.Inc()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.delayFor(attempt)):
		}
	}
	return nil, lastErr
}

func isNonRetryable(err error, names []string) bool {
	msg := err.Error()
	for _, name := range names {
		if name != "" && strings.Contains(msg, name) {
			return true
		}
	}
	return false
}

func (e *Engine) executeTimer(ctx context.Context, step WorkflowStep) (map[string]any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(step.Timeout):
		return map[string]any{}, nil
	}
}

func (e *Engine) executeChildWorkflow(ctx context.Context, step WorkflowStep) (map[string]any, error) {
	child, err := e.StartWorkflow(ctx, step.ChildWorkflowName, nil)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		current, err := e.store.GetExecution(ctx, child.WorkflowID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case StatusCompleted:
			return current.Output, nil
		case StatusFailed, StatusCancelled:
			return nil, fmt.Errorf("workflow: child workflow %s ended with status %s", child.WorkflowID, current.Status)
		}
	}
}

// awaitApproval pauses exec, records a pending approval request, and
// blocks until SubmitDecision or ctx cancellation.
func (e *Engine) awaitApproval(ctx context.Context, exec *Execution, step WorkflowStep) (map[string]any, error) {
	requestID := exec.WorkflowID + ":" + step.ID
	ch := make(chan ApprovalDecision, 1)

	e.mu.Lock()
	e.approvals[requestID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.approvals, requestID)
		e.mu.Unlock()
	}()

	exec.Status = StatusWaitingApproval
	_ = e.store.UpdateExecution(context.Background(), exec)

	detail := requestID
	if e.approvalSecret != nil {
		req := ApprovalRequest{RequestID: requestID, WorkflowID: exec.WorkflowID, StepID: step.ID, StepName: step.Name, CreatedAt: time.Now().UTC()}
		if token, err := signApprovalToken(e.approvalSecret, req, defaultApprovalTokenTTL); err == nil {
			detail = token
		}
	}
	e.emit(Event{WorkflowID: exec.WorkflowID, Type: "awaiting_approval", Detail: detail, Timestamp: time.Now().UTC()})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case decision := <-ch:
		exec.Status = StatusRunning
		if !decision.Approved {
			return nil, fmt.Errorf("workflow: step %s rejected by approver", step.Name)
		}
		return decision.Data, nil
	}
}

// SubmitDecision resumes a step paused by awaitApproval for requestID.
func (e *Engine) SubmitDecision(requestID string, decision ApprovalDecision) error {
	e.mu.Lock()
	ch, ok := e.approvals[requestID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow: no pending approval for %s", requestID)
	}
	ch <- decision
	return nil
}

// SubmitDecisionWithToken validates tokenString (as issued over the
// engine's awaiting_approval event) and resumes the request it
// authorizes.
func (e *Engine) SubmitDecisionWithToken(tokenString string, decision ApprovalDecision) error {
	if e.approvalSecret == nil {
		return errors.New("workflow: approval token signing not configured")
	}
	requestID, err := parseApprovalToken(e.approvalSecret, tokenString)
	if err != nil {
		return err
	}
	return e.SubmitDecision(requestID, decision)
}

// SendSignal enqueues a named signal for workflowID, failing if the
// workflow is unknown.
func (e *Engine) SendSignal(ctx context.Context, workflowID, name string, data map[string]any) error {
	exec, err := e.store.GetExecution(ctx, workflowID)
	if err != nil {
		return err
	}
	exec.History = append(exec.History, StepHistory{
		Name:      "signal:" + name,
		Status:    "received",
		Output:    data,
		StartedAt: time.Now().UTC(),
		EndedAt:   time.Now().UTC(),
	})
	e.emit(Event{WorkflowID: workflowID, Type: "signal_received:" + name, Timestamp: time.Now().UTC()})
	return e.store.UpdateExecution(ctx, exec)
}

// QueryWorkflow returns workflowID's current Execution.
func (e *Engine) QueryWorkflow(ctx context.Context, workflowID string) (*Execution, error) {
	return e.store.GetExecution(ctx, workflowID)
}

// CancelWorkflow marks workflowID cancelled and interrupts its
// execution goroutine.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID string) error {
	exec, err := e.store.GetExecution(ctx, workflowID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	cancel, ok := e.cancels[workflowID]
	e.mu.Unlock()
	if ok {
		cancel()
	}

	exec.Status = StatusCancelled
	return e.store.UpdateExecution(ctx, exec)
}

// GetWorkflowHistory returns workflowID's recorded checkpoints,
// descending by creation time.
func (e *Engine) GetWorkflowHistory(ctx context.Context, workflowID string) ([]checkpoint.Checkpoint, error) {
	if e.checkpoints == nil {
		return nil, nil
	}
	return e.checkpoints.ListCheckpoints(ctx, workflowID)
}

// ReplayFromCheckpoint restores workflowID's Execution from
// checkpointID, resets CurrentStepIndex to the checkpoint's step, sets
// status to running, and resumes execution.
func (e *Engine) ReplayFromCheckpoint(ctx context.Context, workflowID, checkpointID string) error {
	if e.checkpoints == nil {
		return errors.New("workflow: checkpointing not configured")
	}
	state, err := e.checkpoints.Restore(ctx, checkpointID)
	if err != nil {
		return err
	}

	var exec Execution
	if err := json.Unmarshal(state, &exec); err != nil {
		return err
	}
	exec.Status = StatusRunning
	exec.EndedAt = nil
	if err := e.store.UpdateExecution(ctx, &exec); err != nil {
		return err
	}

	e.mu.Lock()
	def, ok := e.definitions[exec.DefinitionName]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, exec.DefinitionName)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[exec.WorkflowID] = cancel
	e.mu.Unlock()

	go e.run(runCtx, def, &exec)
	return nil
}

// Metrics returns a snapshot of the engine's cumulative activity.
func (e *Engine) Metrics() Metrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.metrics
}
