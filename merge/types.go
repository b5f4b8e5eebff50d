// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package merge resolves concurrent workers' file changes against a
// shared base workspace snapshot.
package merge

import "time"

// Resolution names how a conflict was settled.
type Resolution string

const (
	ResolutionIdentical  Resolution = "identical"
	ResolutionSuperset   Resolution = "superset"
	ResolutionStructural Resolution = "structural"
	ResolutionAI         Resolution = "ai"
	ResolutionManual     Resolution = "manual"
)

// ConflictInfo describes one file touched by two or more workers.
type ConflictInfo struct {
	Path           string     `json:"path"`
	Workers        []string   `json:"workers"`
	Resolution     Resolution `json:"resolution"`
	RequiresReview bool       `json:"requires_review"`
	Confidence     float64    `json:"confidence,omitempty"`
	Detail         string     `json:"detail,omitempty"`
}

// WorkerChanges is one worker's touched-file map, path → content.
type WorkerChanges struct {
	WorkerID string
	Files    map[string]string
}

// Options configures a Merge call.
type Options struct {
	HighRiskGlobs               []string
	MaxAutoResolveLines         int
	SemanticSimilarityThreshold float64
	AIEnabled                   bool
	Resolver                    AIResolver
}

// DefaultOptions matches the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		HighRiskGlobs:               []string{"**/security/**", ".env*", "**/migrations/**"},
		MaxAutoResolveLines:         200,
		SemanticSimilarityThreshold: 0.7,
		AIEnabled:                   false,
	}
}

// AIResolver is consulted by step 6 when AI-assisted resolution is
// enabled and no earlier strategy resolved the conflict.
type AIResolver interface {
	Resolve(path string, base string, candidates map[string]string) (merged string, confidence float64, err error)
}

// Result is the outcome of Coordinator.Merge.
type Result struct {
	Files                map[string]string     `json:"files"`
	Conflicts            []ConflictInfo        `json:"conflicts"`
	Strategies           map[string]Resolution `json:"strategies"`
	AutoResolved         int                   `json:"auto_resolved"`
	ManualReviewRequired int                   `json:"manual_review_required"`
	Success              bool                  `json:"success"`
}

// Metrics tracks cumulative Coordinator activity.
type Metrics struct {
	TotalMerges          int
	AutoMerges           int
	ManualMerges         int
	AutoResolutionRate   float64
	AvgConflictsPerMerge float64
	AvgResolutionTime    time.Duration
}
