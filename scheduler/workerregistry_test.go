// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerRegistryRegisterAndHeartbeat(t *testing.T) {
	r := NewWorkerRegistry(0)
	now := time.Unix(1000, 0)
	r.Register("w1", []string{"go"}, now)

	w, ok := r.GetWorker("w1")
	require.True(t, ok)
	assert.Equal(t, WorkerIdle, w.Status)

	ok = r.UpdateHeartbeat("w1", WorkerBusy, 3, now.Add(time.Second))
	require.True(t, ok)

	w, _ = r.GetWorker("w1")
	assert.Equal(t, WorkerBusy, w.Status)
	assert.Equal(t, 3, w.QueueLength)
}

func TestWorkerRegistryCleanupStaleWorkers(t *testing.T) {
	r := NewWorkerRegistry(10 * time.Second)
	start := time.Unix(0, 0)
	r.Register("fresh", nil, start)
	r.Register("stale", nil, start)
	r.UpdateHeartbeat("fresh", WorkerIdle, 0, start.Add(9*time.Second))

	staled := r.CleanupStaleWorkers(start.Add(15 * time.Second))
	assert.ElementsMatch(t, []string{"stale"}, staled)

	w, _ := r.GetWorker("stale")
	assert.Equal(t, WorkerOffline, w.Status)
}

func TestWorkerRegistryGetIdleWorkers(t *testing.T) {
	r := NewWorkerRegistry(0)
	now := time.Now()
	r.Register("idle1", nil, now)
	r.Register("busy1", nil, now)
	r.UpdateHeartbeat("busy1", WorkerBusy, 5, now)

	idle := r.GetIdleWorkers()
	require.Len(t, idle, 1)
	assert.Equal(t, "idle1", idle[0].ID)
}

func TestWorkerRegistryUnregister(t *testing.T) {
	r := NewWorkerRegistry(0)
	r.Register("w1", nil, time.Now())
	r.Unregister("w1")
	_, ok := r.GetWorker("w1")
	assert.False(t, ok)
}
