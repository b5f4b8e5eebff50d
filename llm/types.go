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

// Package llm coordinates completion requests across multiple model
// providers: chain-based fallback, health tracking, cost computation and
// selection strategies live here; the wire format for any one provider's
// API lives in its own subpackage (anthropic, gemini, azure, bedrock).
package llm

import "time"

// CompletionRequest is the provider-agnostic request shape passed to
// every Provider implementation.
type CompletionRequest struct {
	Prompt       string
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	Model        string
	Metadata     map[string]any
}

// UsageStats carries token accounting from a single completion.
type UsageStats struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// CompletionResponse is returned by a Provider's Complete call.
type CompletionResponse struct {
	Content string
	Model   string
	Usage   UsageStats
}

// Result is what Router.Complete returns: the response plus routing
// metadata required by spec.md §4.5.
type Result struct {
	Content      string
	Provider     string
	Model        string
	Usage        UsageStats
	Cost         float64
	Latency      time.Duration
	UsedFallback bool
	TraceID      string
}

// Cost holds per-million-token pricing for a provider.
type Cost struct {
	Input  float64 // USD per 1,000,000 input tokens
	Output float64 // USD per 1,000,000 output tokens
}

// computeCost implements spec.md §4.5 step 3's cost formula.
func computeCost(cost Cost, usage UsageStats) float64 {
	return (float64(usage.InputTokens)*cost.Input + float64(usage.OutputTokens)*cost.Output) / 1e6
}

// LoadBalancingStrategy selects a provider outside of chain order.
type LoadBalancingStrategy string

const (
	StrategyRoundRobin   LoadBalancingStrategy = "round-robin"
	StrategyLeastCost    LoadBalancingStrategy = "least-cost"
	StrategyLeastLatency LoadBalancingStrategy = "least-latency"
	StrategyWeighted     LoadBalancingStrategy = "weighted"
)

// ProviderConfig is one entry in the Router's provider list.
type ProviderConfig struct {
	Name      string
	Provider  Provider
	Cost      Cost
	RateLimit int
	Priority  int
	Healthy   bool

	unhealthyUntil time.Time
}

// Chain is a named, ordered fallback sequence of provider names.
type Chain struct {
	ID        string
	Providers []string
}
