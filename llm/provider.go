// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import "context"

// Provider is the minimal contract every model backend must satisfy to
// be routed by the Router. Health and cost bookkeeping live in the
// Router's ProviderConfig, not here, so an adapter only has to speak its
// wire protocol.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CostTracker is the narrow slice of cost.Tracker the router needs,
// kept local so this package never imports cost (same reasoning as
// scheduler.RetryExecutor: recovery/cost stay decoupled from their
// consumers' packages).
type CostTracker interface {
	RecordUsage(ctx context.Context, providerID string, usage UsageStats, costUSD float64) error
}
