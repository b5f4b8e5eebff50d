// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityRoutingScenario(t *testing.T) {
	claude := Info{
		ID:      "claude",
		Enabled: true,
		Capabilities: Capabilities{
			CodeGeneration: true,
			CodeReview:     true,
			Languages:      []string{"ts"},
			MaxContextTokens: 200000,
		},
	}
	gemini := Info{
		ID:      "gemini",
		Enabled: true,
		Capabilities: Capabilities{
			CodeGeneration:   true,
			Languages:        []string{"ts", "py"},
			MaxContextTokens: 100000,
		},
	}

	req := Requirement{
		Capabilities:     []string{"codeGeneration", "codeReview"},
		Languages:        []string{"ts"},
		MinContextTokens: 150000,
	}

	m := NewMatcher()
	best := m.FindBestMatch([]Info{claude, gemini}, req)
	require.NotNil(t, best)
	assert.Equal(t, "claude", best.Provider.ID)
}

func TestScoreProviderClampedAndIntegral(t *testing.T) {
	m := NewMatcher()
	p := Info{Capabilities: Capabilities{
		CodeGeneration: true, Languages: []string{"go"}, MaxContextTokens: 50000,
		SupportsStreaming: true, SupportsMCP: true, SupportsResume: true,
	}}

	r := m.ScoreProvider(p, Requirement{})
	assert.Equal(t, 100, r.Score)
}

func TestMeetsRequirementsExistentialCapabilities(t *testing.T) {
	m := NewMatcher()
	p := Info{Capabilities: Capabilities{CodeReview: true, Languages: []string{"go"}}}
	req := Requirement{Capabilities: []string{"codeGeneration", "codeReview"}}
	assert.True(t, m.MeetsRequirements(p, req), "existential match: one of two requested capabilities present")
}

func TestRankProvidersDropsNonPositiveScores(t *testing.T) {
	m := NewMatcher()
	ineligible := Info{ID: "none", Capabilities: Capabilities{}}
	req := Requirement{Capabilities: []string{"testing"}}

	ranked := m.RankProviders([]Info{ineligible}, req)
	assert.Empty(t, ranked)
}
