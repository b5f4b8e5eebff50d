// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package provider

import "sort"

// Matcher implements meetsRequirements/scoreProvider/rankProviders/
// findBestMatch exactly as specified: existential capability/language
// matching gates availability; scoring rewards proportional coverage.
type Matcher struct{}

// NewMatcher returns a stateless capability matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// MeetsRequirements reports whether provider p is even eligible for req.
// (A) at least one requested capability present (vacuously true if none
// requested); (B) same for languages; (C) context window big enough;
// (D) streaming/MCP/resume satisfied when required.
func (m *Matcher) MeetsRequirements(p Info, req Requirement) bool {
	if len(req.Capabilities) > 0 {
		any := false
		for _, c := range req.Capabilities {
			if hasCapability(p.Capabilities, c) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	if len(req.Languages) > 0 {
		any := false
		for _, l := range req.Languages {
			if hasLanguage(p.Capabilities, l) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	if p.Capabilities.MaxContextTokens < req.MinContextTokens {
		return false
	}

	if req.RequireStreaming && !p.Capabilities.SupportsStreaming {
		return false
	}
	if req.RequireMCP && !p.Capabilities.SupportsMCP {
		return false
	}
	if req.RequireResume && !p.Capabilities.SupportsResume {
		return false
	}

	return true
}

const (
	weightCapabilities = 30
	weightLanguages    = 20
	weightContext      = 20
	weightStreaming    = 10
	weightMCP          = 10
	weightResume       = 10
)

// ScoreProvider computes an integer score in [0,100] plus the matched
// requirement names. A dimension the caller didn't ask about contributes
// its full weight (it can't be held against the provider).
func (m *Matcher) ScoreProvider(p Info, req Requirement) MatchResult {
	score := 0.0
	var matches []string

	if len(req.Capabilities) == 0 {
		score += weightCapabilities
	} else {
		matched := 0
		for _, c := range req.Capabilities {
			if hasCapability(p.Capabilities, c) {
				matched++
				matches = append(matches, c)
			}
		}
		score += weightCapabilities * float64(matched) / float64(len(req.Capabilities))
	}

	if len(req.Languages) == 0 {
		score += weightLanguages
	} else {
		matched := 0
		for _, l := range req.Languages {
			if hasLanguage(p.Capabilities, l) {
				matched++
				matches = append(matches, l)
			}
		}
		score += weightLanguages * float64(matched) / float64(len(req.Languages))
	}

	if req.MinContextTokens <= 0 {
		score += weightContext
	} else if p.Capabilities.MaxContextTokens >= req.MinContextTokens {
		// Reward larger windows above the minimum, capped at 2x the
		// requirement so one giant-context provider doesn't dominate by
		// orders of magnitude.
		ratio := float64(p.Capabilities.MaxContextTokens) / float64(req.MinContextTokens)
		if ratio > 2 {
			ratio = 2
		}
		score += weightContext * (ratio / 2)
	}

	if !req.RequireStreaming || p.Capabilities.SupportsStreaming {
		score += weightStreaming
	}
	if !req.RequireMCP || p.Capabilities.SupportsMCP {
		score += weightMCP
	}
	if !req.RequireResume || p.Capabilities.SupportsResume {
		score += weightResume
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return MatchResult{Provider: p, Score: int(score + 0.5), Matches: matches}
}

// RankProviders scores every eligible provider, drops non-positive scores,
// and sorts descending by score with input order as the tiebreaker (a
// stable sort suffices since Go's sort.SliceStable preserves it).
func (m *Matcher) RankProviders(providers []Info, req Requirement) []MatchResult {
	results := make([]MatchResult, 0, len(providers))
	for _, p := range providers {
		if !m.MeetsRequirements(p, req) {
			continue
		}
		r := m.ScoreProvider(p, req)
		if r.Score <= 0 {
			continue
		}
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}

// FindBestMatch returns the head of RankProviders, or nil if none qualify.
func (m *Matcher) FindBestMatch(providers []Info, req Requirement) *MatchResult {
	ranked := m.RankProviders(providers, req)
	if len(ranked) == 0 {
		return nil
	}
	return &ranked[0]
}
