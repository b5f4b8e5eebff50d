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

package scheduler

import (
	"context"
	"sync"
)

// FailureStrategy controls what a StageScheduler does when a task in a
// stage fails.
type FailureStrategy string

const (
	// FailureRetry wraps the task through RetryExecutor before giving up.
	FailureRetry FailureStrategy = "retry"
	// FailureAbort fails the entire plan as soon as one task fails.
	FailureAbort FailureStrategy = "abort"
	// FailureContinue marks the task failed but keeps running the stage
	// and subsequent stages (tasks depending on the failure are still
	// attempted — spec.md leaves cascade-skip to the caller's DAG
	// semantics, not to the stage scheduler itself).
	FailureContinue FailureStrategy = "continue"
)

// TaskExecutor runs one TaskNode to completion or returns its error.
type TaskExecutor func(ctx context.Context, task TaskNode) error

// RetryExecutor is the narrow slice of recovery.Manager the stage
// scheduler needs for the "retry" failure strategy — kept as a local
// interface so this package never imports recovery.
type RetryExecutor interface {
	WithRetry(ctx context.Context, op func(ctx context.Context) error) error
}

// Execution is the per-task outcome recorded in an ExecutionResult.
type Execution struct {
	TaskID  string
	Success bool
	Error   string
}

// ExecutionResult is the StageScheduler's output for an entire plan.
type ExecutionResult struct {
	Success        bool
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	Executions     []Execution
}

// StageScheduler dispatches one stage's tasks concurrently to a worker
// pool (modeled simply as bounded goroutine fan-out, since the actual
// worker assignment/rebalancing is WorkStealingScheduler's job), and
// waits for the stage barrier before starting the next.
type StageScheduler struct {
	maxConcurrency int
	strategy       FailureStrategy
	retry          RetryExecutor
}

// NewStageScheduler builds a scheduler with the given concurrency cap and
// failure strategy. retry may be nil unless strategy is FailureRetry.
func NewStageScheduler(maxConcurrency int, strategy FailureStrategy, retry RetryExecutor) *StageScheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &StageScheduler{maxConcurrency: maxConcurrency, strategy: strategy, retry: retry}
}

// Run executes every stage of plan in order, barrier-synchronized between
// stages, using exec to run each task.
func (s *StageScheduler) Run(ctx context.Context, plan *ExecutionPlan, exec TaskExecutor) ExecutionResult {
	result := ExecutionResult{Success: true, TotalTasks: len(plan.Tasks)}

	for _, stage := range plan.Stages {
		stageExecs := s.runStage(ctx, stage, exec)
		result.Executions = append(result.Executions, stageExecs...)

		stageFailed := false
		for _, e := range stageExecs {
			if e.Success {
				result.CompletedTasks++
			} else {
				result.FailedTasks++
				stageFailed = true
			}
		}

		if stageFailed {
			result.Success = false
			if s.strategy == FailureAbort {
				break
			}
		}
	}

	return result
}

func (s *StageScheduler) runStage(ctx context.Context, stage Stage, exec TaskExecutor) []Execution {
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	results := make([]Execution, len(stage.Tasks))

	for i, task := range stage.Tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task TaskNode) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.runTask(ctx, task, exec)
		}(i, task)
	}
	wg.Wait()
	return results
}

func (s *StageScheduler) runTask(ctx context.Context, task TaskNode, exec TaskExecutor) Execution {
	var err error
	if s.strategy == FailureRetry && s.retry != nil {
		err = s.retry.WithRetry(ctx, func(ctx context.Context) error {
			return exec(ctx, task)
		})
	} else {
		err = exec(ctx, task)
	}

	if err != nil {
		return Execution{TaskID: task.ID, Success: false, Error: err.Error()}
	}
	return Execution{TaskID: task.ID, Success: true}
}
