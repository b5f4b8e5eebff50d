// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ado-project/adocore/llm"
)

func TestRecordUsageSavesRecordWithCost(t *testing.T) {
	store := NewMemStore()
	tr := NewTracker(store, nil)

	err := tr.RecordUsage(context.Background(), "anthropic", llm.UsageStats{InputTokens: 100, OutputTokens: 50}, 0.0045)
	require.NoError(t, err)

	records, err := store.ListUsage(context.Background(), UsageQueryOptions{ProviderID: "anthropic"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, AccessAPI, records[0].AccessMode)
	assert.Equal(t, 100, records[0].InputTokens)
	require.NotNil(t, records[0].CostUSD)
	assert.Equal(t, 0.0045, *records[0].CostUSD)
}

func TestRecordUsageRecordRejectsMissingProvider(t *testing.T) {
	tr := NewTracker(NewMemStore(), nil)
	err := tr.RecordUsageRecord(context.Background(), UsageRecord{})
	assert.ErrorIs(t, err, ErrInvalidUsageRecord)
}

func TestGetDailyCostSumsOnlyMatchingDay(t *testing.T) {
	store := NewMemStore()
	tr := NewTracker(store, nil)

	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	cost1, cost2, cost3 := 1.0, 2.0, 99.0
	require.NoError(t, store.SaveUsage(context.Background(), UsageRecord{ProviderID: "gemini", Timestamp: today, CostUSD: &cost1}))
	require.NoError(t, store.SaveUsage(context.Background(), UsageRecord{ProviderID: "gemini", Timestamp: today.Add(time.Hour), CostUSD: &cost2}))
	require.NoError(t, store.SaveUsage(context.Background(), UsageRecord{ProviderID: "gemini", Timestamp: yesterday, CostUSD: &cost3}))

	total, err := tr.GetDailyCost(context.Background(), "gemini", today)
	require.NoError(t, err)
	assert.Equal(t, 3.0, total)
}

func TestGetDailyCostIgnoresFreeCalls(t *testing.T) {
	store := NewMemStore()
	tr := NewTracker(store, nil)

	now := time.Now().UTC()
	require.NoError(t, store.SaveUsage(context.Background(), UsageRecord{ProviderID: "local", Timestamp: now, AccessMode: AccessFree}))

	total, err := tr.GetDailyCost(context.Background(), "local", now)
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)
}
