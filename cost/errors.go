// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import "errors"

var (
	// ErrInvalidUsageRecord is returned when RecordUsage is given a record
	// missing a provider id.
	ErrInvalidUsageRecord = errors.New("cost: provider id is required")
)
