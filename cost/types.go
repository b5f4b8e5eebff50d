// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package cost tracks per-provider LLM usage and cost, append-only, so
// spend can be queried by provider and time window.
package cost

import "time"

// AccessMode describes how a provider was billed for a given call.
type AccessMode string

const (
	AccessSubscription AccessMode = "subscription"
	AccessAPI          AccessMode = "api"
	AccessFree         AccessMode = "free"
)

// UsageRecord represents a single billed-or-free LLM usage event.
// Append-only: once written a record is never mutated.
type UsageRecord struct {
	ProviderID   string     `json:"provider_id"`
	AccessMode   AccessMode `json:"access_mode"`
	Timestamp    time.Time  `json:"timestamp"`
	RequestCount int        `json:"request_count"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	CostUSD      *float64   `json:"cost_usd,omitempty"`
}

// TotalTokens returns the combined input and output token count.
func (r UsageRecord) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// UsageQueryOptions filters a usage query by provider and time window.
type UsageQueryOptions struct {
	ProviderID string
	Since      time.Time
	Until      time.Time
}
