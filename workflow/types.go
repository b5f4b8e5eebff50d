// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package workflow implements a durable, step-structured workflow
// executor: activities with per-step retry policy, timers, signals,
// decisions, child workflows, checkpointing, and human-in-the-loop
// approval gates.
package workflow

import "time"

// StepType names a WorkflowStep's execution kind.
type StepType string

const (
	StepActivity      StepType = "activity"
	StepSignal        StepType = "signal"
	StepTimer         StepType = "timer"
	StepDecision      StepType = "decision"
	StepChildWorkflow StepType = "child-workflow"
)

// CheckpointStrategy controls when Engine writes a checkpoint after a
// step completes.
type CheckpointStrategy string

const (
	CheckpointEveryStep CheckpointStrategy = "every-step"
	CheckpointManual    CheckpointStrategy = "manual"
	CheckpointNone      CheckpointStrategy = "none"
)

// Status is an Execution's lifecycle state.
type Status string

const (
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// RetryPolicy configures activity retries. A step's RetryPolicy, if
// set, overrides the workflow's.
type RetryPolicy struct {
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
	MaximumAttempts    int
	NonRetryableErrors []string
}

// delayFor returns the backoff delay after failed attempt n (1-indexed),
// that is, before attempt n+1.
func (p RetryPolicy) delayFor(n int) time.Duration {
	d := float64(p.InitialInterval)
	for i := 1; i < n; i++ {
		d *= p.BackoffCoefficient
	}
	if max := float64(p.MaximumInterval); max > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// WorkflowStep is one step in a WorkflowDefinition.
type WorkflowStep struct {
	ID                    string
	Name                  string
	Type                  StepType
	ActivityName          string
	Timeout               time.Duration
	RequiresCheckpoint    bool
	RequiresHumanApproval bool
	SignalName            string
	ChildWorkflowName     string
	RetryPolicy           *RetryPolicy
}

// WorkflowDefinition describes a registered workflow's shape.
type WorkflowDefinition struct {
	Name               string
	Version            string
	Steps              []WorkflowStep
	RetryPolicy        RetryPolicy
	CheckpointStrategy CheckpointStrategy
	EnableHITL         bool
}

// ActivityHandler executes one activity invocation.
type ActivityHandler func(ctx ActivityContext, input map[string]any) (map[string]any, error)

// ActivityContext is passed to an ActivityHandler.
type ActivityContext struct {
	WorkflowID string
	RunID      string
	StepID     string
}

// ActivityDefinition registers a named activity and its handler.
type ActivityDefinition struct {
	Name        string
	Handler     ActivityHandler
	RetryPolicy *RetryPolicy
}

// StepHistory records one completed (or failed) step's outcome.
type StepHistory struct {
	StepID    string         `json:"step_id"`
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
}

// Execution is a running or completed workflow instance.
type Execution struct {
	WorkflowID       string         `json:"workflow_id"`
	RunID            string         `json:"run_id"`
	DefinitionName   string         `json:"definition_name"`
	Status           Status         `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	Input            map[string]any `json:"input"`
	Output           map[string]any `json:"output,omitempty"`
	Error            string         `json:"error,omitempty"`
	History          []StepHistory  `json:"history"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
}

// Signal is a named event delivered to a running workflow.
type Signal struct {
	Name string
	Data map[string]any
}

// ApprovalDecision is supplied to SubmitDecision to resume a paused
// HITL step.
type ApprovalDecision struct {
	Approved bool
	Data     map[string]any
}

// ApprovalRequest describes a pending human-approval gate.
type ApprovalRequest struct {
	RequestID  string
	WorkflowID string
	StepID     string
	StepName   string
	CreatedAt  time.Time
}

// Metrics tracks cumulative Engine activity. Counters update
// monotonically.
type Metrics struct {
	WorkflowsStarted    int64
	WorkflowsCompleted  int64
	ActivitiesExecuted  int64
	ActivitiesRetried   int64
	CheckpointsCreated  int64
	AvgWorkflowDuration time.Duration
}
