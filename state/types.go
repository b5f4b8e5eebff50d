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

// Package state defines the persistence contract for sessions, tasks,
// usage records, and checkpoints, and the dual sync/async access pattern
// every backend (embedded SQLite, Postgres, MySQL) implements.
package state

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStatus is the legal lifecycle of a Task per the spec's transition
// graph: pending -> running -> {completed|failed|cancelled}, with
// running <-> paused also allowed. Terminal states never change again.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether a status is permanent.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is legal.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case TaskPending:
		return next == TaskRunning || next == TaskCancelled
	case TaskRunning:
		return next == TaskPaused || next == TaskCompleted || next == TaskFailed || next == TaskCancelled
	case TaskPaused:
		return next == TaskRunning || next == TaskCancelled
	default:
		return false
	}
}

// AccessMode is the channel a UsageRecord was billed through.
type AccessMode string

const (
	AccessSubscription AccessMode = "subscription"
	AccessAPI          AccessMode = "api"
	AccessFree         AccessMode = "free"
)

// Session is an ongoing conversation/work-context with one provider.
type Session struct {
	ID             string
	ProjectID      string
	RepositoryKey  string
	ProviderID     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Metadata       map[string]any
}

// TaskDefinition is the caller-supplied request for a Task.
type TaskDefinition struct {
	ClientID           string   `json:"clientId,omitempty"`
	Prompt             string   `json:"prompt"`
	ProjectKey         string   `json:"projectKey"`
	RepositoryPath     string   `json:"repositoryPath"`
	PreferredProviders []string `json:"preferredProviders,omitempty"`
	Requirements       map[string]any `json:"requirements,omitempty"`
}

// Task is one unit of orchestrated work.
type Task struct {
	ID          string
	SessionID   string
	Definition  TaskDefinition
	Status      TaskStatus
	ProviderID  string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Result      string
}

// UsageRecord is an append-only billing fact.
type UsageRecord struct {
	ProviderID   string
	AccessMode   AccessMode
	Timestamp    time.Time
	RequestCount int
	InputTokens  int
	OutputTokens int
	CostUSD      *float64
}

// Checkpoint is a durable, versioned TaskState snapshot.
type Checkpoint struct {
	ID        string
	TaskID    string
	SessionID string
	CreatedAt time.Time
	State     []byte // versioned JSON encoding of TaskState
}

// TaskState is what gets serialized into a Checkpoint.State. SchemaVersion
// lets future encodings evolve without breaking old checkpoints per the
// "encoder must be versioned" design note.
type TaskState struct {
	SchemaVersion int            `json:"schemaVersion"`
	TaskID        string         `json:"taskId"`
	Status        TaskStatus     `json:"status"`
	Progress      float64        `json:"progress"`
	FilesTouched  []string       `json:"filesTouched,omitempty"`
	Custom        map[string]any `json:"custom,omitempty"`
}

const currentSchemaVersion = 1

// EncodeTaskState versions and marshals a TaskState for storage.
func EncodeTaskState(ts TaskState) ([]byte, error) {
	ts.SchemaVersion = currentSchemaVersion
	return json.Marshal(ts)
}

// DecodeTaskState unmarshals a stored TaskState snapshot.
func DecodeTaskState(data []byte) (TaskState, error) {
	var ts TaskState
	if err := json.Unmarshal(data, &ts); err != nil {
		return TaskState{}, err
	}
	return ts, nil
}

// UsageQuery bounds a usage read by provider (optional) and a required
// lower timestamp bound, per spec.md's O(log N)-over-time requirement.
type UsageQuery struct {
	ProviderID string
	Since      time.Time
}

// Store is the synchronous persistence contract. Every successful write
// call is durable before it returns (crash-safe).
type Store interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	UpdateSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, id string) error

	CreateTask(ctx context.Context, t Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	GetTaskByClientID(ctx context.Context, clientID string) (Task, error)
	UpdateTask(ctx context.Context, t Task) error

	AppendUsage(ctx context.Context, u UsageRecord) error
	QueryUsage(ctx context.Context, q UsageQuery) ([]UsageRecord, error)

	InsertCheckpoint(ctx context.Context, c Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (Checkpoint, error)
	LatestCheckpointForTask(ctx context.Context, taskID string) (Checkpoint, error)

	Close() error
}

// Result is the outcome of an async call — a future delivered on a channel.
type Result[T any] struct {
	Value T
	Err   error
}

// AsyncStore wraps a synchronous Store behind a worker goroutine so callers
// get a <-chan Result future per the "async/await -> task+channel" design
// note, without the underlying backend needing to be concurrency-aware
// beyond what Store already requires.
type AsyncStore struct {
	inner Store
	jobs  chan func()
	done  chan struct{}
}

// NewAsyncStore starts a single worker goroutine draining jobs in order,
// so operations against one AsyncStore are serialized (simple, and
// sufficient — real concurrency comes from running many AsyncStores or
// from the backend's own internal pooling).
func NewAsyncStore(inner Store, queueDepth int) *AsyncStore {
	a := &AsyncStore{
		inner: inner,
		jobs:  make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncStore) run() {
	for {
		select {
		case job, ok := <-a.jobs:
			if !ok {
				close(a.done)
				return
			}
			job()
		}
	}
}

// Shutdown stops accepting new jobs and waits for the queue to drain.
func (a *AsyncStore) Shutdown() {
	close(a.jobs)
	<-a.done
}

func submit[T any](a *AsyncStore, fn func() (T, error)) <-chan Result[T] {
	out := make(chan Result[T], 1)
	a.jobs <- func() {
		v, err := fn()
		out <- Result[T]{Value: v, Err: err}
		close(out)
	}
	return out
}

func (a *AsyncStore) CreateTask(ctx context.Context, t Task) <-chan Result[struct{}] {
	return submit(a, func() (struct{}, error) {
		return struct{}{}, a.inner.CreateTask(ctx, t)
	})
}

func (a *AsyncStore) GetTask(ctx context.Context, id string) <-chan Result[Task] {
	return submit(a, func() (Task, error) {
		return a.inner.GetTask(ctx, id)
	})
}

func (a *AsyncStore) UpdateTask(ctx context.Context, t Task) <-chan Result[struct{}] {
	return submit(a, func() (struct{}, error) {
		return struct{}{}, a.inner.UpdateTask(ctx, t)
	})
}

func (a *AsyncStore) AppendUsage(ctx context.Context, u UsageRecord) <-chan Result[struct{}] {
	return submit(a, func() (struct{}, error) {
		return struct{}{}, a.inner.AppendUsage(ctx, u)
	})
}

func (a *AsyncStore) QueryUsage(ctx context.Context, q UsageQuery) <-chan Result[[]UsageRecord] {
	return submit(a, func() ([]UsageRecord, error) {
		return a.inner.QueryUsage(ctx, q)
	})
}
