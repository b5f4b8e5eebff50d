// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package state

import "errors"

// ErrNotFound is returned (wrapped with context) when a Get/Latest lookup
// finds nothing. Backends must return an error that satisfies
// errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("state: not found")

// ErrInvalidTransition names an illegal task status transition (see
// TaskStatus.CanTransition). The Store backends in this module do not
// check transitions in UpdateTask and never return it.
var ErrInvalidTransition = errors.New("state: invalid task status transition")
