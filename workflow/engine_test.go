// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/checkpoint"
	"github.com/ado-project/adocore/checkpoint/memstore"
	"github.com/ado-project/adocore/metrics"
	"github.com/ado-project/adocore/workflow"
	wfmemstore "github.com/ado-project/adocore/workflow/memstore"
)

func waitForTerminal(t *testing.T, e *workflow.Engine, workflowID string) *workflow.Execution {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := e.QueryWorkflow(context.Background(), workflowID)
		require.NoError(t, err)
		if exec.Status == workflow.StatusCompleted || exec.Status == workflow.StatusFailed || exec.Status == workflow.StatusCancelled {
			return exec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("workflow did not reach a terminal state in time")
	return nil
}

func TestStartWorkflowRunsActivitiesInOrder(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	var calls []string
	e.RegisterActivity(workflow.ActivityDefinition{Name: "a", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		calls = append(calls, "a")
		return map[string]any{}, nil
	}})
	e.RegisterActivity(workflow.ActivityDefinition{Name: "b", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		calls = append(calls, "b")
		return map[string]any{"done": true}, nil
	}})
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name: "two-step",
		Steps: []workflow.WorkflowStep{
			{ID: "s1", Name: "step one", Type: workflow.StepActivity, ActivityName: "a"},
			{ID: "s2", Name: "step two", Type: workflow.StepActivity, ActivityName: "b"},
		},
	})

	exec, err := e.StartWorkflow(context.Background(), "two-step", nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, exec.Status)

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusCompleted, final.Status)
	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, map[string]any{"done": true}, final.Output)
}

func TestActivityMissingNameFails(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:  "bad",
		Steps: []workflow.WorkflowStep{{ID: "s1", Type: workflow.StepActivity}},
	})

	exec, err := e.StartWorkflow(context.Background(), "bad", nil)
	require.NoError(t, err)

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "activity name required")
}

func TestUnregisteredActivityFails(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:  "missing-activity",
		Steps: []workflow.WorkflowStep{{ID: "s1", Type: workflow.StepActivity, ActivityName: "ghost"}},
	})

	exec, err := e.StartWorkflow(context.Background(), "missing-activity", nil)
	require.NoError(t, err)

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusFailed, final.Status)
	assert.Contains(t, final.Error, "activity not found")
}

func TestActivityRetriesThenSucceeds(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	attempts := 0
	e.RegisterActivity(workflow.ActivityDefinition{Name: "flaky", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("temporary failure")
		}
		return map[string]any{"attempts": attempts}, nil
	}})
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:        "retry-wf",
		RetryPolicy: workflow.RetryPolicy{InitialInterval: time.Millisecond, BackoffCoefficient: 1, MaximumInterval: 10 * time.Millisecond, MaximumAttempts: 5},
		Steps:       []workflow.WorkflowStep{{ID: "s1", Type: workflow.StepActivity, ActivityName: "flaky"}},
	})

	exec, err := e.StartWorkflow(context.Background(), "retry-wf", nil)
	require.NoError(t, err)

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusCompleted, final.Status)
	assert.Equal(t, 3, attempts)
}

func TestNonRetryableErrorStopsImmediately(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	attempts := 0
	e.RegisterActivity(workflow.ActivityDefinition{Name: "fatal", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		attempts++
		return nil, errors.New("ValidationError: bad input")
	}})
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:        "nonretryable-wf",
		RetryPolicy: workflow.RetryPolicy{InitialInterval: time.Millisecond, BackoffCoefficient: 1, MaximumInterval: time.Millisecond, MaximumAttempts: 5, NonRetryableErrors: []string{"ValidationError"}},
		Steps:       []workflow.WorkflowStep{{ID: "s1", Type: workflow.StepActivity, ActivityName: "fatal"}},
	})

	exec, err := e.StartWorkflow(context.Background(), "nonretryable-wf", nil)
	require.NoError(t, err)

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusFailed, final.Status)
	assert.Equal(t, 1, attempts)
}

func TestHITLStepPausesAndResumesOnDecision(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	e.RegisterActivity(workflow.ActivityDefinition{Name: "noop", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		return map[string]any{"approved": true}, nil
	}})
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:       "hitl-wf",
		EnableHITL: true,
		Steps:      []workflow.WorkflowStep{{ID: "approve-me", Type: workflow.StepActivity, ActivityName: "noop", RequiresHumanApproval: true}},
	})

	exec, err := e.StartWorkflow(context.Background(), "hitl-wf", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, _ := e.QueryWorkflow(context.Background(), exec.WorkflowID)
		return current != nil && current.Status == workflow.StatusWaitingApproval
	}, time.Second, 5*time.Millisecond)

	err = e.SubmitDecision(exec.WorkflowID+":approve-me", workflow.ApprovalDecision{Approved: true})
	require.NoError(t, err)

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusCompleted, final.Status)
}

func TestHITLStepResumesViaSignedApprovalToken(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, []byte("test-secret"))
	e.RegisterActivity(workflow.ActivityDefinition{Name: "noop", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}})
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:       "hitl-token-wf",
		EnableHITL: true,
		Steps:      []workflow.WorkflowStep{{ID: "approve-me", Type: workflow.StepActivity, ActivityName: "noop", RequiresHumanApproval: true}},
	})

	var token string
	e.Subscribe(func(ev workflow.Event) {
		if ev.Type == "awaiting_approval" {
			token = ev.Detail
		}
	})

	exec, err := e.StartWorkflow(context.Background(), "hitl-token-wf", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return token != "" }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.SubmitDecisionWithToken(token, workflow.ApprovalDecision{Approved: true}))

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusCompleted, final.Status)
}

func TestSendSignalFailsForUnknownWorkflow(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	err := e.SendSignal(context.Background(), "unknown-id", "ping", nil)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestCancelWorkflowMarksCancelled(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:  "long-wf",
		Steps: []workflow.WorkflowStep{{ID: "s1", Type: workflow.StepTimer, Timeout: time.Hour}},
	})

	exec, err := e.StartWorkflow(context.Background(), "long-wf", nil)
	require.NoError(t, err)

	require.NoError(t, e.CancelWorkflow(context.Background(), exec.WorkflowID))

	final := waitForTerminal(t, e, exec.WorkflowID)
	assert.Equal(t, workflow.StatusCancelled, final.Status)
}

func TestCheckpointEveryStepWritesACheckpointPerStep(t *testing.T) {
	mgr := checkpoint.NewManager(memstore.New(), 0)
	e := workflow.NewEngine(wfmemstore.New(), mgr, nil)
	e.RegisterActivity(workflow.ActivityDefinition{Name: "a", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}})
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:               "checkpointed",
		CheckpointStrategy: workflow.CheckpointEveryStep,
		Steps: []workflow.WorkflowStep{
			{ID: "s1", Type: workflow.StepActivity, ActivityName: "a"},
			{ID: "s2", Type: workflow.StepActivity, ActivityName: "a"},
		},
	})

	exec, err := e.StartWorkflow(context.Background(), "checkpointed", nil)
	require.NoError(t, err)
	waitForTerminal(t, e, exec.WorkflowID)

	history, err := e.GetWorkflowHistory(context.Background(), exec.WorkflowID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, int64(2), e.Metrics().CheckpointsCreated)
}

func TestStartWorkflowUpdatesAttachedRegistry(t *testing.T) {
	e := workflow.NewEngine(wfmemstore.New(), nil, nil)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	e.SetMetrics(m)

	e.RegisterActivity(workflow.ActivityDefinition{Name: "a", Handler: func(ctx workflow.ActivityContext, input map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}})
	e.RegisterWorkflow(workflow.WorkflowDefinition{
		Name:  "metric-wf",
		Steps: []workflow.WorkflowStep{{ID: "s1", Type: workflow.StepActivity, ActivityName: "a"}},
	})

	exec, err := e.StartWorkflow(context.Background(), "metric-wf", nil)
	require.NoError(t, err)
	waitForTerminal(t, e, exec.WorkflowID)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkflowsStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WorkflowsCompleted.WithLabelValues(string(workflow.StatusCompleted))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActivitiesExecuted))
}
