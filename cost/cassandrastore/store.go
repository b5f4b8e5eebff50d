// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package cassandrastore backs cost.Store with Cassandra, a natural fit
// for an append-only, time-partitioned usage ledger: writes are never
// updated in place and reads are always scoped to a provider and a
// bounded time window.
package cassandrastore

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/ado-project/adocore/cost"
)

// Store implements cost.Store against a keyspace holding a single
// usage_by_provider table, partitioned by provider_id and clustered by
// timestamp descending so recent usage reads don't scan the partition.
type Store struct {
	session *gocql.Session
}

// New connects to the given Cassandra hosts/keyspace and returns a
// Store. The keyspace and table are assumed to already exist:
//
//	CREATE TABLE usage_by_provider (
//	    provider_id    text,
//	    ts             timestamp,
//	    access_mode    text,
//	    request_count  int,
//	    input_tokens   int,
//	    output_tokens  int,
//	    cost_usd       double,
//	    has_cost       boolean,
//	    PRIMARY KEY (provider_id, ts)
//	) WITH CLUSTERING ORDER BY (ts DESC);
func New(hosts []string, keyspace string, timeout time.Duration) (*Store, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("cassandrastore: at least one host is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = timeout

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandrastore: create session: %w", err)
	}
	return &Store{session: session}, nil
}

// Close releases the underlying Cassandra session.
func (s *Store) Close() {
	s.session.Close()
}

// SaveUsage implements cost.Store.
func (s *Store) SaveUsage(ctx context.Context, record cost.UsageRecord) error {
	costUSD, hasCost := 0.0, false
	if record.CostUSD != nil {
		costUSD, hasCost = *record.CostUSD, true
	}

	return s.session.Query(
		`INSERT INTO usage_by_provider
			(provider_id, ts, access_mode, request_count, input_tokens, output_tokens, cost_usd, has_cost)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ProviderID, record.Timestamp, string(record.AccessMode), record.RequestCount,
		record.InputTokens, record.OutputTokens, costUSD, hasCost,
	).WithContext(ctx).Exec()
}

// ListUsage implements cost.Store. ProviderID is required: the table is
// partitioned by provider, so a query without one would have to scan
// every partition.
func (s *Store) ListUsage(ctx context.Context, opts cost.UsageQueryOptions) ([]cost.UsageRecord, error) {
	if opts.ProviderID == "" {
		return nil, fmt.Errorf("cassandrastore: provider id is required to scope the partition")
	}

	since := opts.Since
	if since.IsZero() {
		since = time.Unix(0, 0).UTC()
	}
	until := opts.Until
	if until.IsZero() {
		until = time.Now().UTC().Add(24 * time.Hour)
	}

	iter := s.session.Query(
		`SELECT provider_id, ts, access_mode, request_count, input_tokens, output_tokens, cost_usd, has_cost
		 FROM usage_by_provider
		 WHERE provider_id = ? AND ts >= ? AND ts < ?`,
		opts.ProviderID, since, until,
	).WithContext(ctx).Iter()

	var out []cost.UsageRecord
	var (
		providerID   string
		ts           time.Time
		accessMode   string
		requestCount int
		inputTokens  int
		outputTokens int
		costUSD      float64
		hasCost      bool
	)
	for iter.Scan(&providerID, &ts, &accessMode, &requestCount, &inputTokens, &outputTokens, &costUSD, &hasCost) {
		rec := cost.UsageRecord{
			ProviderID:   providerID,
			AccessMode:   cost.AccessMode(accessMode),
			Timestamp:    ts,
			RequestCount: requestCount,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
		}
		if hasCost {
			c := costUSD
			rec.CostUSD = &c
		}
		out = append(out, rec)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandrastore: list usage: %w", err)
	}
	return out, nil
}

// Ping implements cost.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}
