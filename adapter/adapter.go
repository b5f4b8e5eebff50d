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

// Package adapter defines the contract the orchestration core consumes to
// drive a coding agent. The core never spawns `claude-code`, `aider`, or any
// other concrete tool itself — it only holds an Adapter and reads its event
// stream.
package adapter

import "context"

// EventType tags the variant carried by an Event.
type EventType string

const (
	EventStart     EventType = "start"
	EventOutput    EventType = "output"
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventInterrupt EventType = "interrupt"
)

// Event is a tagged union over the six event kinds an adapter can emit for
// a single task attempt. Exactly one of the payload fields is meaningful,
// selected by Type; this mirrors the discriminated-union pattern called out
// for dynamic adapter dispatch.
type Event struct {
	Type EventType

	// Output carries incremental or final text for EventOutput/EventComplete.
	Output string

	// Progress carries a 0..1 completion estimate for EventProgress.
	Progress float64

	// FilesTouched lists paths the attempt modified so far; consumed by the
	// stuck detector's no-progress/oscillating classifiers.
	FilesTouched []string

	// Err carries the failure for EventError.
	Err error

	// Reason carries a human-readable cause for EventInterrupt.
	Reason string
}

// Capability names a skill an adapter may advertise; shared with the
// provider package's capability vocabulary.
type Capability string

const (
	CapabilityCodeGeneration Capability = "codeGeneration"
	CapabilityCodeReview     Capability = "codeReview"
	CapabilityRefactoring    Capability = "refactoring"
	CapabilityTesting        Capability = "testing"
	CapabilityDocumentation  Capability = "documentation"
	CapabilityDebugging      Capability = "debugging"
)

// Task is the minimal unit of work an adapter is asked to execute. It
// purposefully mirrors only the fields an adapter needs, not the full
// orchestrator Task record.
type Task struct {
	ID              string
	Prompt          string
	ProjectKey      string
	RepositoryPath  string
	SessionID       string
	ContextFile     string
}

// RateLimitDetector lets the orchestrator ask an adapter whether its last
// failure looked like a provider-side rate limit, independent of the error
// string matching the LLM router otherwise relies on.
type RateLimitDetector interface {
	IsRateLimited(err error) bool
}

// Adapter is the interface the orchestration core consumes. Execute returns
// a channel of Events; the channel is closed after a terminal event
// (Complete, Error, or Interrupt) is sent. The sequence is finite and
// non-restartable: a new Execute call starts a fresh attempt.
type Adapter interface {
	ID() string
	Capabilities() []Capability

	Initialize(ctx context.Context, config map[string]any) error
	IsAvailable(ctx context.Context) bool

	Execute(ctx context.Context, task Task) (<-chan Event, error)
	Interrupt(taskID string) error

	GetContextFile() string
	SetProjectContext(ctx map[string]any)
	GetRateLimitDetector() RateLimitDetector
}
