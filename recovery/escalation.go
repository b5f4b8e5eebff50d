// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package recovery

import "sync"

// EscalationEngine evaluates EscalationContext against an ordered
// policy table (first match wins) and records per-task history.
type EscalationEngine struct {
	mu      sync.Mutex
	history map[string][]EscalationLevel
}

// NewEscalationEngine builds an empty EscalationEngine.
func NewEscalationEngine() *EscalationEngine {
	return &EscalationEngine{history: make(map[string][]EscalationLevel)}
}

// Decide evaluates ctx against the policy table top-to-bottom; the
// first matching row determines the outcome. Given identical inputs
// (including prior history), Decide is deterministic.
func (e *EscalationEngine) Decide(ctx EscalationContext) EscalationDecision {
	daCount := e.countLevel(ctx.TaskID, LevelDifferentApproach)
	retryCount := e.countLevel(ctx.TaskID, LevelRetry)
	reason := ctx.Diagnosis.Reason

	var decision EscalationDecision

	switch {
	case ctx.TaskPriority == PriorityCritical && ctx.Stuck && ctx.Diagnosis.Confidence >= 0.8 && ctx.FastEscalationEnabled:
		decision = EscalationDecision{
			Level:         LevelHumanIntervention,
			Reason:        "critical task stuck with high-confidence diagnosis",
			RequiresHuman: true,
		}

	case !ctx.Stuck && ctx.Attempts <= ctx.MaxRetries:
		decision = EscalationDecision{
			Level:          LevelRetry,
			Reason:         "not stuck, retries remaining",
			CanAutoResolve: true,
		}

	case !ctx.Stuck && ctx.Attempts > ctx.MaxRetries:
		decision = EscalationDecision{
			Level:          LevelDifferentApproach,
			Reason:         "not stuck but retry budget exhausted",
			CanAutoResolve: true,
		}

	case reason == ReasonIdenticalErrors && daCount < ctx.MaxApproaches:
		decision = EscalationDecision{
			Level:          LevelDifferentApproach,
			Reason:         "identical errors repeating, approach budget remains",
			CanAutoResolve: true,
		}

	case reason == ReasonIdenticalErrors && daCount >= ctx.MaxApproaches && ctx.AllowPartialCompletion:
		decision = EscalationDecision{
			Level:         LevelPartialCompletion,
			Reason:        "identical errors persist after exhausting approaches",
			RequiresHuman: true,
		}

	case reason == ReasonNoProgress && daCount < ctx.MaxApproaches:
		decision = EscalationDecision{
			Level:          LevelDifferentApproach,
			Reason:         "no progress, approach budget remains",
			CanAutoResolve: true,
		}

	case reason == ReasonNoProgress && daCount >= ctx.MaxApproaches && !ctx.AllowPartialCompletion:
		decision = EscalationDecision{
			Level:         LevelHumanIntervention,
			Reason:        "no progress after exhausting approaches",
			RequiresHuman: true,
		}

	case reason == ReasonTimeout && ctx.TaskComplexity == ComplexityEpic:
		decision = EscalationDecision{
			Level:  LevelPartialCompletion,
			Reason: "timeout on epic-scale task",
		}

	case reason == ReasonTimeout:
		decision = EscalationDecision{
			Level:         LevelHumanIntervention,
			Reason:        "timeout",
			RequiresHuman: true,
		}

	case reason == ReasonOscillating && daCount == 0:
		decision = EscalationDecision{
			Level:          LevelDifferentApproach,
			Reason:         "oscillating between file sets",
			CanAutoResolve: true,
		}

	case reason == ReasonOscillating && daCount > 0:
		decision = EscalationDecision{
			Level:         LevelHumanIntervention,
			Reason:        "oscillating after a prior approach change",
			RequiresHuman: true,
		}

	case reason == ReasonTestFailureLoop && retryCount == 0:
		decision = EscalationDecision{
			Level:          LevelRetry,
			Reason:         "recurring test failures, no prior retry",
			CanAutoResolve: true,
		}

	case reason == ReasonTestFailureLoop && retryCount > 0:
		decision = EscalationDecision{
			Level:         LevelHumanIntervention,
			Reason:        "recurring test failures after a prior retry",
			RequiresHuman: true,
		}

	default:
		// No documented row matches; an unclassified stall is not safe
		// to leave unattended.
		decision = EscalationDecision{
			Level:         LevelHumanIntervention,
			Reason:        "no escalation policy matched",
			RequiresHuman: true,
		}
	}

	e.recordEscalation(ctx.TaskID, decision.Level)
	return decision
}

// recordEscalation appends level to taskID's history.
func (e *EscalationEngine) recordEscalation(taskID string, level EscalationLevel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history[taskID] = append(e.history[taskID], level)
}

// GetHistory returns taskID's recorded escalation levels, oldest first.
func (e *EscalationEngine) GetHistory(taskID string) []EscalationLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EscalationLevel, len(e.history[taskID]))
	copy(out, e.history[taskID])
	return out
}

// ClearHistory discards taskID's recorded escalation levels.
func (e *EscalationEngine) ClearHistory(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.history, taskID)
}

func (e *EscalationEngine) countLevel(taskID string, level EscalationLevel) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, l := range e.history[taskID] {
		if l == level {
			count++
		}
	}
	return count
}
