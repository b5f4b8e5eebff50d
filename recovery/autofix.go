// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package recovery

import (
	"regexp"
	"sort"
	"sync"
)

// ValidationIssue is one finding AutoFixEngine attempts to resolve.
type ValidationIssue struct {
	ID       string
	Category string
	Message  string
}

// FixStrategy is a registered remediation for issues matching Category
// and Pattern. Fix reports whether it resolved the issue; a non-nil
// error is treated as the strategy failing for this issue only.
type FixStrategy struct {
	Name       string
	Category   string
	Pattern    *regexp.Regexp
	Confidence float64
	Fix        func(issue ValidationIssue, ctx map[string]any) (bool, error)
}

// AutoFixGates configures one AutoFix invocation.
type AutoFixGates struct {
	Enabled          bool
	MaxAttempts      int
	MaxStuckAttempts int
	MinConfidence    float64
}

// AutoFixResult is returned by AutoFixEngine.AutoFix.
type AutoFixResult struct {
	TaskID          string
	FixesApplied    int
	RemainingIssues []ValidationIssue
	ShouldRetry     bool
	Stuck           bool
	Detail          string
}

// AutoFixStats summarizes an AutoFixEngine's activity for one task.
type AutoFixStats struct {
	TotalAttempts int
	TotalFixes    int
	SuccessRate   float64
}

// AutoFixEngine applies registered FixStrategies to validation
// failures, bounded by per-task attempt and stuck limits.
type AutoFixEngine struct {
	mu         sync.Mutex
	strategies []FixStrategy

	attempts    map[string]int
	fixesTotal  map[string]int
	issuesTotal map[string]int
}

// NewAutoFixEngine builds an empty AutoFixEngine.
func NewAutoFixEngine() *AutoFixEngine {
	return &AutoFixEngine{
		attempts:    make(map[string]int),
		fixesTotal:  make(map[string]int),
		issuesTotal: make(map[string]int),
	}
}

// Register adds strategy to the engine's registry.
func (e *AutoFixEngine) Register(strategy FixStrategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, strategy)
}

// AutoFix attempts to resolve issues for taskID using registered
// strategies, subject to gates.
func (e *AutoFixEngine) AutoFix(taskID string, issues []ValidationIssue, ctx map[string]any, gates AutoFixGates) *AutoFixResult {
	e.mu.Lock()
	e.attempts[taskID]++
	attempt := e.attempts[taskID]
	strategies := make([]FixStrategy, len(e.strategies))
	copy(strategies, e.strategies)
	e.mu.Unlock()

	if !gates.Enabled || (gates.MaxStuckAttempts > 0 && attempt > gates.MaxStuckAttempts) {
		return &AutoFixResult{
			TaskID:          taskID,
			RemainingIssues: issues,
			ShouldRetry:     false,
			Stuck:           true,
			Detail:          "auto-fix disabled or stuck-attempt limit exceeded",
		}
	}

	fixesApplied := 0
	var remaining []ValidationIssue

	for _, issue := range issues {
		candidates := matchingStrategies(strategies, issue, gates.MinConfidence)
		resolved := false
		for _, strategy := range candidates {
			ok, err := strategy.Fix(issue, ctx)
			if err != nil {
				continue
			}
			if ok {
				fixesApplied++
				resolved = true
				break
			}
		}
		if !resolved {
			remaining = append(remaining, issue)
		}
	}

	e.mu.Lock()
	e.fixesTotal[taskID] += fixesApplied
	e.issuesTotal[taskID] += len(issues)
	e.mu.Unlock()

	shouldRetry := fixesApplied >= 1 && len(remaining) > 0 && attempt < gates.MaxAttempts

	return &AutoFixResult{
		TaskID:          taskID,
		FixesApplied:    fixesApplied,
		RemainingIssues: remaining,
		ShouldRetry:     shouldRetry,
	}
}

// Stats returns taskID's cumulative attempt/fix statistics.
func (e *AutoFixEngine) Stats(taskID string) AutoFixStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := AutoFixStats{
		TotalAttempts: e.attempts[taskID],
		TotalFixes:    e.fixesTotal[taskID],
	}
	if issues := e.issuesTotal[taskID]; issues > 0 {
		stats.SuccessRate = float64(stats.TotalFixes) / float64(issues)
	}
	return stats
}

// matchingStrategies returns strategies whose category and pattern
// match issue and whose confidence is at least minConfidence, sorted
// by confidence descending.
func matchingStrategies(strategies []FixStrategy, issue ValidationIssue, minConfidence float64) []FixStrategy {
	var out []FixStrategy
	for _, s := range strategies {
		if s.Category != issue.Category {
			continue
		}
		if s.Confidence < minConfidence {
			continue
		}
		if s.Pattern != nil && !s.Pattern.MatchString(issue.Message) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
