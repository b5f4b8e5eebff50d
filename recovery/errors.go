// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package recovery

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
)

// ErrCheckpointNotFound is returned by Restore when a checkpoint id is
// unknown to the underlying checkpoint store.
var ErrCheckpointNotFound = errors.New("recovery: checkpoint not found")

// isRetryable classifies err into the spec's default retryable set:
// network, timeout, rate-limit, temporary.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"timeout", "timed out", "rate limit", "429",
		"temporary", "connection refused", "connection reset", "broken pipe",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// indicatesStuck reports whether err's message signals the stuck/
// deadlock/loop condition DetermineStrategy routes to rollback.
func indicatesStuck(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{"stuck", "deadlock", "loop"} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// indicatesCorruptState reports whether err's message signals state
// corruption, routing DetermineStrategy to restore.
func indicatesCorruptState(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "corrupt") || strings.Contains(msg, "invalid state")
}

// indicatesFatal reports whether err's message signals an unrecoverable
// failure, routing DetermineStrategy to abort.
func indicatesFatal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "fatal") || strings.Contains(msg, "unrecoverable")
}
