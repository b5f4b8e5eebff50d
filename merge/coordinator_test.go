// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package merge

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIdenticalContentsNoConflictReported(t *testing.T) {
	c := NewCoordinator(DefaultOptions())
	base := map[string]string{"a.go": "package a\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"a.go": "package a\nfunc F() {}\n"}},
		{WorkerID: "w2", Files: map[string]string{"a.go": "package a\nfunc F() {}\n"}},
	}

	result := c.Merge(base, workers)

	assert.Empty(t, result.Conflicts)
	assert.NotContains(t, result.Strategies, "a.go")
	assert.Equal(t, "package a\nfunc F() {}\n", result.Files["a.go"])
	assert.True(t, result.Success)
}

func TestMergeSupersetPicksLongerContent(t *testing.T) {
	c := NewCoordinator(DefaultOptions())
	base := map[string]string{"a.go": "package a\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"a.go": "package a\nfunc F() {}\n"}},
		{WorkerID: "w2", Files: map[string]string{"a.go": "package a\nfunc F() {}\nfunc G() {}\n"}},
	}

	result := c.Merge(base, workers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ResolutionSuperset, result.Conflicts[0].Resolution)
	assert.Equal(t, "package a\nfunc F() {}\nfunc G() {}\n", result.Files["a.go"])
}

func TestMergeHighRiskPathRequiresManualReview(t *testing.T) {
	c := NewCoordinator(DefaultOptions())
	base := map[string]string{".env": "A=1\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{".env": "A=1\nB=2\n"}},
		{WorkerID: "w2", Files: map[string]string{".env": "A=1\nC=3\n"}},
	}

	result := c.Merge(base, workers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ResolutionManual, result.Conflicts[0].Resolution)
	assert.True(t, result.Conflicts[0].RequiresReview)
	assert.False(t, result.Success)
}

func TestMergeLargeConflictGoesManual(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxAutoResolveLines = 1
	c := NewCoordinator(opts)

	base := map[string]string{"big.go": "line1\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"big.go": "line1\nline2\nline3\nline4\n"}},
		{WorkerID: "w2", Files: map[string]string{"big.go": "lineA\nlineB\nlineC\n"}},
	}

	result := c.Merge(base, workers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ResolutionManual, result.Conflicts[0].Resolution)
	assert.True(t, result.Conflicts[0].RequiresReview)
}

func TestMergeFallsBackToManualWhenAIDisabled(t *testing.T) {
	c := NewCoordinator(DefaultOptions())
	base := map[string]string{"a.go": "package a\nfunc F() {}\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"a.go": "package a\nfunc F() { return 1 }\n"}},
		{WorkerID: "w2", Files: map[string]string{"a.go": "package a\nfunc F() { return 2 }\n"}},
	}

	result := c.Merge(base, workers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ResolutionManual, result.Conflicts[0].Resolution)
}

func TestMergeConsultsAIResolverWhenSimilarityBelowThreshold(t *testing.T) {
	opts := DefaultOptions()
	opts.AIEnabled = true
	opts.SemanticSimilarityThreshold = 0.99
	opts.Resolver = resolverFunc(func(path, base string, candidates map[string]string) (string, float64, error) {
		return "resolved-by-ai", 0.6, nil
	})
	c := NewCoordinator(opts)

	base := map[string]string{"a.go": "package a\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"a.go": "completely different content one"}},
		{WorkerID: "w2", Files: map[string]string{"a.go": "totally unrelated content two"}},
	}

	result := c.Merge(base, workers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ResolutionAI, result.Conflicts[0].Resolution)
	assert.Equal(t, "resolved-by-ai", result.Files["a.go"])
}

func TestMergeAIResolverErrorFallsBackToManual(t *testing.T) {
	opts := DefaultOptions()
	opts.AIEnabled = true
	opts.SemanticSimilarityThreshold = 0.99
	opts.Resolver = resolverFunc(func(path, base string, candidates map[string]string) (string, float64, error) {
		return "", 0, errors.New("ai unavailable")
	})
	c := NewCoordinator(opts)

	base := map[string]string{"a.go": "package a\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"a.go": "completely different content one"}},
		{WorkerID: "w2", Files: map[string]string{"a.go": "totally unrelated content two"}},
	}

	result := c.Merge(base, workers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ResolutionManual, result.Conflicts[0].Resolution)
	assert.True(t, result.Conflicts[0].RequiresReview)
}

func TestMergeStructuralMergeReconcilesNonOverlappingEdits(t *testing.T) {
	opts := DefaultOptions()
	opts.AIEnabled = true
	c := NewCoordinator(opts)

	base := map[string]string{"a.go": "line1\nline2\nline3\n"}
	workers := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"a.go": "lineA\nline2\nline3\n"}},
		{WorkerID: "w2", Files: map[string]string{"a.go": "line1\nline2\nlineC\n"}},
	}

	result := c.Merge(base, workers)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, ResolutionStructural, result.Conflicts[0].Resolution)
	assert.Equal(t, "lineA\nline2\nlineC\n", result.Files["a.go"])
}

func TestMergeMetricsAccumulateAcrossCalls(t *testing.T) {
	c := NewCoordinator(DefaultOptions())
	base := map[string]string{"a.go": "x\n"}
	identical := []WorkerChanges{
		{WorkerID: "w1", Files: map[string]string{"a.go": "x\ny\n"}},
		{WorkerID: "w2", Files: map[string]string{"a.go": "x\ny\n"}},
	}

	c.Merge(base, identical)
	c.Merge(base, identical)

	m := c.Metrics()
	assert.Equal(t, 2, m.TotalMerges)
	assert.Equal(t, 2, m.AutoMerges)
	assert.Equal(t, 1.0, m.AutoResolutionRate)
}

type resolverFunc func(path, base string, candidates map[string]string) (string, float64, error)

func (f resolverFunc) Resolve(path, base string, candidates map[string]string) (string, float64, error) {
	return f(path, base, candidates)
}
