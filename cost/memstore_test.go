// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStoreListUsageFiltersByProviderAndWindow(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveUsage(ctx, UsageRecord{ProviderID: "a", Timestamp: base}))
	require.NoError(t, store.SaveUsage(ctx, UsageRecord{ProviderID: "b", Timestamp: base}))
	require.NoError(t, store.SaveUsage(ctx, UsageRecord{ProviderID: "a", Timestamp: base.Add(48 * time.Hour)}))

	records, err := store.ListUsage(ctx, UsageQueryOptions{
		ProviderID: "a",
		Since:      base,
		Until:      base.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ProviderID)
}

func TestMemStorePingAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, NewMemStore().Ping(context.Background()))
}
