// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import "context"

// Store defines the persistence interface for usage records. A Store
// never aggregates in the query path beyond a provider/time filter;
// aggregation is the Tracker's job.
type Store interface {
	SaveUsage(ctx context.Context, record UsageRecord) error
	ListUsage(ctx context.Context, opts UsageQueryOptions) ([]UsageRecord, error)
	Ping(ctx context.Context) error
}
