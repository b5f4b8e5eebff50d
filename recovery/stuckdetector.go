// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package recovery

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// StuckDetector maintains per-task attempt history and classifies
// stalls per spec.md §4.6.
type StuckDetector struct {
	noProgressThreshold int
	timeoutCeiling      time.Duration

	mu      sync.Mutex
	history map[string][]AttemptRecord
}

// NewStuckDetector builds a StuckDetector. noProgressThreshold is the
// number of consecutive empty-filesTouched attempts that counts as
// no_progress; timeoutCeiling bounds elapsed time before a task is
// considered timed out.
func NewStuckDetector(noProgressThreshold int, timeoutCeiling time.Duration) *StuckDetector {
	if noProgressThreshold <= 0 {
		noProgressThreshold = 3
	}
	return &StuckDetector{
		noProgressThreshold: noProgressThreshold,
		timeoutCeiling:      timeoutCeiling,
		history:             make(map[string][]AttemptRecord),
	}
}

// RecordAttempt appends record to taskID's history.
func (d *StuckDetector) RecordAttempt(record AttemptRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history[record.TaskID] = append(d.history[record.TaskID], record)
}

// History returns taskID's recorded attempts, oldest first.
func (d *StuckDetector) History(taskID string) []AttemptRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]AttemptRecord, len(d.history[taskID]))
	copy(out, d.history[taskID])
	return out
}

// Diagnose classifies taskID's current stall state against its history
// and elapsedSinceStart.
func (d *StuckDetector) Diagnose(taskID string, elapsedSinceStart time.Duration) StallDiagnosis {
	history := d.History(taskID)

	if d.timeoutCeiling > 0 && elapsedSinceStart > d.timeoutCeiling {
		return StallDiagnosis{
			Reason:     ReasonTimeout,
			Confidence: 1.0,
			Evidence:   []string{fmt.Sprintf("elapsed %s exceeds ceiling %s", elapsedSinceStart, d.timeoutCeiling)},
		}
	}

	if len(history) == 0 {
		return StallDiagnosis{Reason: ReasonNone, Confidence: 0}
	}

	if reason, confidence, evidence := identicalErrors(history); reason != ReasonNone {
		return StallDiagnosis{Reason: reason, Confidence: confidence, Evidence: evidence}
	}

	if reason, confidence, evidence := noProgress(history, d.noProgressThreshold); reason != ReasonNone {
		return StallDiagnosis{Reason: reason, Confidence: confidence, Evidence: evidence}
	}

	if reason, confidence, evidence := oscillating(history); reason != ReasonNone {
		return StallDiagnosis{Reason: reason, Confidence: confidence, Evidence: evidence}
	}

	if reason, confidence, evidence := testFailureLoop(history); reason != ReasonNone {
		return StallDiagnosis{Reason: reason, Confidence: confidence, Evidence: evidence}
	}

	return StallDiagnosis{Reason: ReasonNone, Confidence: 0}
}

// identicalErrors detects the same normalized error signature repeated
// at least 3 times consecutively at the tail of history.
func identicalErrors(history []AttemptRecord) (StallReason, float64, []string) {
	const minRepeats = 3
	if len(history) < minRepeats {
		return ReasonNone, 0, nil
	}

	tail := history[len(history)-minRepeats:]
	sig := tail[0].ErrorSignature
	if sig == "" {
		return ReasonNone, 0, nil
	}
	for _, a := range tail[1:] {
		if a.ErrorSignature != sig {
			return ReasonNone, 0, nil
		}
	}
	return ReasonIdenticalErrors, 0.9, []string{fmt.Sprintf("error signature %q repeated %d times", sig, minRepeats)}
}

// noProgress detects N consecutive attempts with no files touched.
func noProgress(history []AttemptRecord, threshold int) (StallReason, float64, []string) {
	if len(history) < threshold {
		return ReasonNone, 0, nil
	}
	tail := history[len(history)-threshold:]
	for _, a := range tail {
		if len(a.FilesTouched) > 0 {
			return ReasonNone, 0, nil
		}
	}
	return ReasonNoProgress, 0.8, []string{fmt.Sprintf("%d consecutive attempts touched no files", threshold)}
}

// oscillating detects successive attempts alternating between two
// distinct file sets.
func oscillating(history []AttemptRecord) (StallReason, float64, []string) {
	if len(history) < 4 {
		return ReasonNone, 0, nil
	}
	tail := history[len(history)-4:]
	setA := fileSetKey(tail[0].FilesTouched)
	setB := fileSetKey(tail[1].FilesTouched)
	if setA == "" || setB == "" || setA == setB {
		return ReasonNone, 0, nil
	}
	for i, a := range tail {
		want := setA
		if i%2 == 1 {
			want = setB
		}
		if fileSetKey(a.FilesTouched) != want {
			return ReasonNone, 0, nil
		}
	}
	return ReasonOscillating, 0.7, []string{"file set alternates between two configurations across attempts"}
}

// testFailureLoop detects 2 or more attempts where only test-related
// failures recur.
func testFailureLoop(history []AttemptRecord) (StallReason, float64, []string) {
	const minRepeats = 2
	count := 0
	for _, a := range history {
		if a.Outcome == OutcomeFailure && isTestFailureSignature(a.ErrorSignature) {
			count++
		} else if a.Outcome == OutcomeFailure {
			count = 0
		}
	}
	if count >= minRepeats {
		return ReasonTestFailureLoop, 0.75, []string{fmt.Sprintf("%d recurring test-only failures", count)}
	}
	return ReasonNone, 0, nil
}

func isTestFailureSignature(sig string) bool {
	for _, substr := range []string{"test failed", "assertion", "test_failure"} {
		if strings.Contains(sig, substr) {
			return true
		}
	}
	return false
}

func fileSetKey(files []string) string {
	if len(files) == 0 {
		return ""
	}
	key := ""
	for _, f := range files {
		key += f + ","
	}
	return key
}
