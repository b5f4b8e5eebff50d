// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func record(taskID string, n int, outcome Outcome, errSig string, files []string) AttemptRecord {
	return AttemptRecord{
		TaskID:         taskID,
		AttemptNumber:  n,
		Timestamp:      time.Now().UTC(),
		Outcome:        outcome,
		ErrorSignature: errSig,
		FilesTouched:   files,
	}
}

func TestDiagnoseIdenticalErrors(t *testing.T) {
	d := NewStuckDetector(3, time.Hour)
	for i := 1; i <= 3; i++ {
		d.RecordAttempt(record("t1", i, OutcomeFailure, "nil pointer dereference", []string{"a.go"}))
	}
	diag := d.Diagnose("t1", time.Minute)
	assert.Equal(t, ReasonIdenticalErrors, diag.Reason)
	assert.GreaterOrEqual(t, diag.Confidence, 0.5)
}

func TestDiagnoseNoProgress(t *testing.T) {
	d := NewStuckDetector(3, time.Hour)
	for i := 1; i <= 3; i++ {
		d.RecordAttempt(record("t1", i, OutcomeFailure, "", nil))
	}
	diag := d.Diagnose("t1", time.Minute)
	assert.Equal(t, ReasonNoProgress, diag.Reason)
}

func TestDiagnoseTimeoutOverridesHistory(t *testing.T) {
	d := NewStuckDetector(3, time.Minute)
	d.RecordAttempt(record("t1", 1, OutcomeFailure, "oops", []string{"a.go"}))
	diag := d.Diagnose("t1", 2*time.Minute)
	assert.Equal(t, ReasonTimeout, diag.Reason)
	assert.Equal(t, 1.0, diag.Confidence)
}

func TestDiagnoseOscillating(t *testing.T) {
	d := NewStuckDetector(10, time.Hour)
	a := []string{"a.go"}
	b := []string{"b.go"}
	d.RecordAttempt(record("t1", 1, OutcomeFailure, "e1", a))
	d.RecordAttempt(record("t1", 2, OutcomeFailure, "e2", b))
	d.RecordAttempt(record("t1", 3, OutcomeFailure, "e3", a))
	d.RecordAttempt(record("t1", 4, OutcomeFailure, "e4", b))
	diag := d.Diagnose("t1", time.Minute)
	assert.Equal(t, ReasonOscillating, diag.Reason)
}

func TestDiagnoseTestFailureLoop(t *testing.T) {
	d := NewStuckDetector(10, time.Hour)
	d.RecordAttempt(record("t1", 1, OutcomeFailure, "test failed: expected 1 got 2", []string{"a.go"}))
	d.RecordAttempt(record("t1", 2, OutcomeFailure, "assertion error", []string{"a.go"}))
	diag := d.Diagnose("t1", time.Minute)
	assert.Equal(t, ReasonTestFailureLoop, diag.Reason)
}

func TestDiagnoseNoneWhenHealthy(t *testing.T) {
	d := NewStuckDetector(3, time.Hour)
	d.RecordAttempt(record("t1", 1, OutcomeSuccess, "", []string{"a.go"}))
	diag := d.Diagnose("t1", time.Minute)
	assert.Equal(t, ReasonNone, diag.Reason)
}
