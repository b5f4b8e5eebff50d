// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package merge

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Coordinator resolves conflicting worker file changes against a
// shared base snapshot, following a fixed preference order: identical,
// superset, high-risk, large-conflict, structural, then AI/manual
// fallback.
type Coordinator struct {
	opts Options
	dmp  *diffmatchpatch.DiffMatchPatch

	mu      sync.Mutex
	metrics Metrics
}

// NewCoordinator builds a Coordinator with opts. A zero MaxAutoResolveLines
// falls back to DefaultOptions' value.
func NewCoordinator(opts Options) *Coordinator {
	if opts.MaxAutoResolveLines == 0 {
		opts.MaxAutoResolveLines = DefaultOptions().MaxAutoResolveLines
	}
	if opts.SemanticSimilarityThreshold == 0 {
		opts.SemanticSimilarityThreshold = DefaultOptions().SemanticSimilarityThreshold
	}
	if len(opts.HighRiskGlobs) == 0 {
		opts.HighRiskGlobs = DefaultOptions().HighRiskGlobs
	}
	return &Coordinator{opts: opts, dmp: diffmatchpatch.New()}
}

// Merge reconciles workers' touched files against base, producing a
// merged file map and the conflicts that arose along the way.
func (c *Coordinator) Merge(base map[string]string, workers []WorkerChanges) Result {
	start := time.Now()

	touchedBy := make(map[string][]string)
	contents := make(map[string]map[string]string) // path -> workerID -> content
	for _, w := range workers {
		for path, content := range w.Files {
			touchedBy[path] = append(touchedBy[path], w.WorkerID)
			if contents[path] == nil {
				contents[path] = make(map[string]string)
			}
			contents[path][w.WorkerID] = content
		}
	}

	merged := make(map[string]string)
	var conflicts []ConflictInfo
	strategies := make(map[string]Resolution)
	success := true
	autoResolved := 0
	manualRequired := 0

	for path, workerIDs := range touchedBy {
		byWorker := contents[path]

		if len(workerIDs) == 1 {
			merged[path] = byWorker[workerIDs[0]]
			continue
		}

		// Identical contents merge to that single value without a conflict.
		if distinct := distinctValues(byWorker); len(distinct) == 1 {
			merged[path] = distinct[0]
			continue
		}

		info, resolvedContent := c.resolveConflict(path, base[path], byWorker, workerIDs)
		conflicts = append(conflicts, info)
		strategies[path] = info.Resolution

		if info.RequiresReview {
			manualRequired++
			success = false
		} else {
			autoResolved++
		}

		if info.Resolution != ResolutionManual {
			merged[path] = resolvedContent
		}

		log.Printf("[merge.Coordinator] %s resolved as %s (review=%v)", path, info.Resolution, info.RequiresReview)
	}

	c.recordMetrics(len(conflicts), autoResolved, manualRequired, time.Since(start))

	return Result{
		Files:                merged,
		Conflicts:            conflicts,
		Strategies:           strategies,
		AutoResolved:         autoResolved,
		ManualReviewRequired: manualRequired,
		Success:              success,
	}
}

// resolveConflict applies the six-step resolution order to one
// multiply-touched path.
func (c *Coordinator) resolveConflict(path, baseContent string, byWorker map[string]string, workerIDs []string) (ConflictInfo, string) {
	info := ConflictInfo{Path: path, Workers: workerIDs}

	distinct := distinctValues(byWorker)

	// Step 1: identical contents.
	if len(distinct) == 1 {
		info.Resolution = ResolutionIdentical
		info.Confidence = 1
		return info, distinct[0]
	}

	// Step 2: superset — one worker's content strictly contains another's.
	// The pick is reported with confidence of at least 0.9.
	if winner, confidence, ok := supersetWinner(distinct); ok {
		if confidence < 0.9 {
			confidence = 0.9
		}
		info.Resolution = ResolutionSuperset
		info.Confidence = confidence
		info.Detail = "theirs"
		return info, winner
	}

	// Step 3: high-risk path always requires manual review.
	if isHighRisk(path, c.opts.HighRiskGlobs) {
		info.Resolution = ResolutionManual
		info.RequiresReview = true
		info.Detail = "high-risk path"
		return info, ""
	}

	// Step 4: large conflicts (either side's changed-line count exceeds
	// the configured ceiling) go to manual review.
	for _, content := range distinct {
		if changedLineCount(baseContent, content) > c.opts.MaxAutoResolveLines {
			info.Resolution = ResolutionManual
			info.RequiresReview = true
			info.Detail = "changed-line count exceeds maxAutoResolveLines"
			return info, ""
		}
	}

	// Step 5: structural merge, when AI-assisted merging is enabled and
	// the two variants are similar enough to reconcile line-wise.
	if c.opts.AIEnabled && len(distinct) == 2 {
		similarity := textSimilarity(distinct[0], distinct[1])
		if similarity >= c.opts.SemanticSimilarityThreshold {
			if mergedText, ok := structuralMerge(c.dmp, baseContent, distinct[0], distinct[1]); ok {
				info.Resolution = ResolutionStructural
				info.Confidence = similarity
				return info, mergedText
			}
		}
	}

	// Step 6: fallback — manual if AI disabled, otherwise consult the
	// configured AI resolver.
	if !c.opts.AIEnabled || c.opts.Resolver == nil {
		info.Resolution = ResolutionManual
		info.RequiresReview = true
		info.Detail = "no automatic strategy applied"
		return info, ""
	}

	mergedText, confidence, err := c.opts.Resolver.Resolve(path, baseContent, byWorker)
	if err != nil {
		info.Resolution = ResolutionManual
		info.RequiresReview = true
		info.Detail = err.Error()
		return info, ""
	}
	info.Resolution = ResolutionAI
	info.Confidence = confidence
	return info, mergedText
}

func (c *Coordinator) recordMetrics(conflictCount, autoResolved, manualRequired int, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := float64(c.metrics.TotalMerges)
	c.metrics.TotalMerges++
	if manualRequired > 0 {
		c.metrics.ManualMerges++
	} else {
		c.metrics.AutoMerges++
	}
	total := float64(c.metrics.TotalMerges)

	c.metrics.AutoResolutionRate = float64(c.metrics.AutoMerges) / total
	c.metrics.AvgConflictsPerMerge = (c.metrics.AvgConflictsPerMerge*n + float64(conflictCount)) / total
	c.metrics.AvgResolutionTime = time.Duration((float64(c.metrics.AvgResolutionTime)*n + float64(elapsed)) / total)
}

// Metrics returns a snapshot of the Coordinator's cumulative activity.
func (c *Coordinator) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func distinctValues(byWorker map[string]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range byWorker {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// supersetWinner returns the longest value if it strictly contains
// every other distinct value, with confidence = shortest/longest length
// ratio.
func supersetWinner(distinct []string) (string, float64, bool) {
	if len(distinct) != 2 {
		return "", 0, false
	}
	a, b := distinct[0], distinct[1]
	longer, shorter := a, b
	if len(b) > len(a) {
		longer, shorter = b, a
	}
	if shorter == "" || !strings.Contains(longer, shorter) {
		return "", 0, false
	}
	confidence := float64(len(shorter)) / float64(len(longer))
	return longer, confidence, true
}

func isHighRisk(path string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, path); ok {
			return true
		}
	}
	return false
}

// changedLineCount counts inserted/deleted lines between base and
// content using a line-mode diff.
func changedLineCount(base, content string) int {
	if base == content {
		return 0
	}
	dmp := diffmatchpatch.New()
	aChars, bChars, lineArray := dmp.DiffLinesToChars(base, content)
	diffs := dmp.DiffMain(aChars, bChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	changed := 0
	for _, d := range diffs {
		if d.Type == diffmatchpatch.DiffEqual {
			continue
		}
		changed += len(strings.Split(strings.Trim(d.Text, "\n"), "\n"))
	}
	return changed
}

// textSimilarity returns a [0,1] similarity score derived from edit
// distance.
func textSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, true)
	distance := dmp.DiffLevenshtein(diffs)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(distance)/float64(maxLen)
}

// structuralMerge applies the diff between base and a as a patch onto
// b; a clean application (all hunks applied) is reported as a
// successful line-wise merge.
func structuralMerge(dmp *diffmatchpatch.DiffMatchPatch, base, a, b string) (string, bool) {
	patches := dmp.PatchMake(base, a)
	mergedText, applied := dmp.PatchApply(patches, b)
	for _, ok := range applied {
		if !ok {
			return "", false
		}
	}
	return mergedText, true
}
