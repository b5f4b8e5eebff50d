// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockAdapterSimpleScenario(t *testing.T) {
	mock := NewMockAdapter("claude", []Capability{CapabilityCodeGeneration}, []Event{
		{Type: EventOutput, Output: "hi"},
		{Type: EventComplete, Output: "hi"},
	})

	ch, err := mock.Execute(context.Background(), Task{ID: "t1", Prompt: "print hello"})
	require.NoError(t, err)

	var got []EventType
	for ev := range ch {
		got = append(got, ev.Type)
	}

	assert.Equal(t, []EventType{EventStart, EventOutput, EventComplete}, got)
}

func TestMockAdapterInterrupt(t *testing.T) {
	mock := NewMockAdapter("claude", nil, []Event{
		{Type: EventOutput, Output: "working"},
		{Type: EventOutput, Output: "still working"},
		{Type: EventComplete},
	})

	ch, err := mock.Execute(context.Background(), Task{ID: "t2"})
	require.NoError(t, err)

	// Consume the start + first output event, then interrupt mid-stream.
	<-ch
	<-ch
	require.NoError(t, mock.Interrupt("t2"))

	var last EventType
	for ev := range ch {
		last = ev.Type
	}
	assert.Equal(t, EventInterrupt, last)
}

func TestMockAdapterUnknownInterrupt(t *testing.T) {
	mock := NewMockAdapter("claude", nil, nil)
	assert.Error(t, mock.Interrupt("never-ran"))
}
