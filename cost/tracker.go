// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ado-project/adocore/llm"
)

// Tracker records LLM usage against a Store and answers daily-cost
// queries. It implements llm.CostTracker so a Router can emit usage
// directly after every completed call.
type Tracker struct {
	store  Store
	logger *log.Logger
}

// NewTracker builds a Tracker backed by store. A nil logger defaults
// to log.Default().
func NewTracker(store Store, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{store: store, logger: logger}
}

// RecordUsage implements llm.CostTracker. accessMode defaults to api
// since the Router has no notion of subscription/free access.
func (t *Tracker) RecordUsage(ctx context.Context, providerID string, usage llm.UsageStats, costUSD float64) error {
	return t.RecordUsageRecord(ctx, UsageRecord{
		ProviderID:   providerID,
		AccessMode:   AccessAPI,
		Timestamp:    time.Now().UTC(),
		RequestCount: 1,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      &costUSD,
	})
}

// RecordUsageRecord saves a fully formed UsageRecord, filling in a
// timestamp if the caller left one unset.
func (t *Tracker) RecordUsageRecord(ctx context.Context, record UsageRecord) error {
	if record.ProviderID == "" {
		return ErrInvalidUsageRecord
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	if record.RequestCount == 0 {
		record.RequestCount = 1
	}

	if err := t.store.SaveUsage(ctx, record); err != nil {
		t.logger.Printf("[cost] failed to save usage for provider=%s: %v", record.ProviderID, err)
		return fmt.Errorf("cost: save usage: %w", err)
	}
	return nil
}

// GetDailyCost sums CostUSD for providerID over the UTC day containing
// day. Records with no CostUSD (free-tier calls) contribute zero.
func (t *Tracker) GetDailyCost(ctx context.Context, providerID string, day time.Time) (float64, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	records, err := t.store.ListUsage(ctx, UsageQueryOptions{ProviderID: providerID, Since: start, Until: end})
	if err != nil {
		return 0, fmt.Errorf("cost: list usage: %w", err)
	}

	var total float64
	for _, r := range records {
		if r.CostUSD != nil {
			total += *r.CostUSD
		}
	}
	return total, nil
}
