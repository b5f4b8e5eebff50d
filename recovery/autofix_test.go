// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package recovery

import (
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoFixAppliesHighestConfidenceStrategy(t *testing.T) {
	e := NewAutoFixEngine()
	var applied string
	e.Register(FixStrategy{
		Name: "low", Category: "lint", Pattern: regexp.MustCompile(`unused`), Confidence: 0.4,
		Fix: func(issue ValidationIssue, ctx map[string]any) (bool, error) {
			applied = "low"
			return true, nil
		},
	})
	e.Register(FixStrategy{
		Name: "high", Category: "lint", Pattern: regexp.MustCompile(`unused`), Confidence: 0.9,
		Fix: func(issue ValidationIssue, ctx map[string]any) (bool, error) {
			applied = "high"
			return true, nil
		},
	})

	result := e.AutoFix("t1", []ValidationIssue{{ID: "i1", Category: "lint", Message: "unused variable x"}}, nil,
		AutoFixGates{Enabled: true, MaxAttempts: 3, MaxStuckAttempts: 3})

	require.Equal(t, 1, result.FixesApplied)
	assert.Equal(t, "high", applied)
	assert.Empty(t, result.RemainingIssues)
}

func TestAutoFixDisabledReportsStuckWithoutApplying(t *testing.T) {
	e := NewAutoFixEngine()
	e.Register(FixStrategy{
		Name: "s", Category: "lint", Confidence: 1,
		Fix: func(issue ValidationIssue, ctx map[string]any) (bool, error) { return true, nil },
	})

	result := e.AutoFix("t1", []ValidationIssue{{ID: "i1", Category: "lint", Message: "x"}}, nil, AutoFixGates{Enabled: false})

	assert.True(t, result.Stuck)
	assert.False(t, result.ShouldRetry)
	assert.Equal(t, 0, result.FixesApplied)
	assert.Len(t, result.RemainingIssues, 1)
}

func TestAutoFixSwallowsStrategyErrorAndLeavesIssueUnresolved(t *testing.T) {
	e := NewAutoFixEngine()
	e.Register(FixStrategy{
		Name: "broken", Category: "lint", Confidence: 1,
		Fix: func(issue ValidationIssue, ctx map[string]any) (bool, error) { return false, errors.New("boom") },
	})

	result := e.AutoFix("t1", []ValidationIssue{{ID: "i1", Category: "lint", Message: "x"}}, nil,
		AutoFixGates{Enabled: true, MaxAttempts: 3, MaxStuckAttempts: 3})

	assert.Equal(t, 0, result.FixesApplied)
	assert.Len(t, result.RemainingIssues, 1)
}

func TestAutoFixSkipsStrategiesBelowMinConfidence(t *testing.T) {
	e := NewAutoFixEngine()
	applied := false
	e.Register(FixStrategy{
		Name: "weak", Category: "lint", Confidence: 0.2,
		Fix: func(issue ValidationIssue, ctx map[string]any) (bool, error) {
			applied = true
			return true, nil
		},
	})

	result := e.AutoFix("t1", []ValidationIssue{{ID: "i1", Category: "lint", Message: "x"}}, nil,
		AutoFixGates{Enabled: true, MaxAttempts: 3, MaxStuckAttempts: 3, MinConfidence: 0.5})

	assert.False(t, applied)
	assert.Equal(t, 0, result.FixesApplied)
	assert.Len(t, result.RemainingIssues, 1)
}

func TestAutoFixShouldRetryWhenFixedSomeButIssuesRemainUnderAttemptLimit(t *testing.T) {
	e := NewAutoFixEngine()
	e.Register(FixStrategy{
		Name: "fixA", Category: "lint", Confidence: 1,
		Fix: func(issue ValidationIssue, ctx map[string]any) (bool, error) { return issue.ID == "a", nil },
	})

	result := e.AutoFix("t1", []ValidationIssue{{ID: "a", Category: "lint"}, {ID: "b", Category: "lint"}}, nil,
		AutoFixGates{Enabled: true, MaxAttempts: 3, MaxStuckAttempts: 3})

	assert.Equal(t, 1, result.FixesApplied)
	assert.Len(t, result.RemainingIssues, 1)
	assert.True(t, result.ShouldRetry)
}

func TestAutoFixStatsAccumulateAcrossAttempts(t *testing.T) {
	e := NewAutoFixEngine()
	e.Register(FixStrategy{
		Name: "fix", Category: "lint", Confidence: 1,
		Fix: func(issue ValidationIssue, ctx map[string]any) (bool, error) { return true, nil },
	})

	gates := AutoFixGates{Enabled: true, MaxAttempts: 5, MaxStuckAttempts: 5}
	e.AutoFix("t1", []ValidationIssue{{ID: "a", Category: "lint"}}, nil, gates)
	e.AutoFix("t1", []ValidationIssue{{ID: "b", Category: "lint"}}, nil, gates)

	stats := e.Stats("t1")
	assert.Equal(t, 2, stats.TotalAttempts)
	assert.Equal(t, 2, stats.TotalFixes)
	assert.Equal(t, 1.0, stats.SuccessRate)
}
