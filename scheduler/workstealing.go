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
	"math/rand"
	"sync"
	"time"

	"github.com/ado-project/adocore/metrics"
)

// WorkerState is the work-stealing scheduler's view of one worker.
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerBusy     WorkerState = "busy"
	WorkerStealing WorkerState = "stealing"
	WorkerOffline  WorkerState = "offline"
)

// StealPolicy selects which busy worker an idle worker steals from.
type StealPolicy string

const (
	StealRandom     StealPolicy = "random"
	StealMostLoaded StealPolicy = "most-loaded"
)

// WorkStealingConfig holds the tunables from spec.md §4.4.
type WorkStealingConfig struct {
	Policy               StealPolicy
	MinQueueSizeForSteal int
	MaxStealAttempts     int
	BackoffDelay         time.Duration
}

func defaultWorkStealingConfig() WorkStealingConfig {
	return WorkStealingConfig{
		Policy:               StealRandom,
		MinQueueSizeForSteal: 2,
		MaxStealAttempts:     3,
		BackoffDelay:         5 * time.Millisecond,
	}
}

// deque is a single worker's task queue, guarded by its own mutex so each
// worker's structure can be touched independently (race-free without one
// global lock, per §5's concurrency model).
type deque struct {
	mu     sync.Mutex
	tasks  []TaskNode
	state  WorkerState
	// metrics
	completed     int
	stealAttempts int
	stealsWon     int
}

func (d *deque) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// pushBack appends a newly submitted task to the tail of the deque.
func (d *deque) pushBack(t TaskNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, t)
}

// popFront removes and returns the head of the deque — the owner's own
// FIFO consumption order.
func (d *deque) popFront() (TaskNode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tasks) == 0 {
		return TaskNode{}, false
	}
	t := d.tasks[0]
	d.tasks = d.tasks[1:]
	return t, true
}

// popBack removes and returns the tail — what a thief steals, preserving
// the owner's FIFO order at the front.
func (d *deque) popBack() (TaskNode, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.tasks)
	if n == 0 {
		return TaskNode{}, false
	}
	t := d.tasks[n-1]
	d.tasks = d.tasks[:n-1]
	return t, true
}

// pushFront puts the unstolen remainder of a split task back at the head
// of the victim's deque, so it is the victim's next own task.
func (d *deque) pushFront(t TaskNode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append([]TaskNode{t}, d.tasks...)
}

// Metrics is a snapshot of WorkStealingScheduler performance counters.
type Metrics struct {
	CompletedTasks    int
	StealAttempts     int
	SuccessfulSteals  int
	AvgQueueLength    float64
	WorkerUtilization map[string]float64
	LoadBalanceScore  float64
}

// WorkStealingScheduler balances tasks across a fixed set of worker
// deques, with idle workers stealing from the back of busier ones.
type WorkStealingScheduler struct {
	cfg WorkStealingConfig

	mu      sync.RWMutex
	order   []string // registration order, for round-robin bulk submit
	workers map[string]*deque
	rrNext  int

	metrics *metrics.Registry
}

// SetMetrics attaches a Registry that Snapshot updates as a side effect.
// Optional: a scheduler with no Registry behaves exactly as before.
func (s *WorkStealingScheduler) SetMetrics(m *metrics.Registry) {
	s.metrics = m
}

// NewWorkStealingScheduler builds a scheduler with the given config;
// zero-value fields fall back to sensible defaults.
func NewWorkStealingScheduler(cfg WorkStealingConfig) *WorkStealingScheduler {
	if cfg.Policy == "" {
		cfg.Policy = defaultWorkStealingConfig().Policy
	}
	if cfg.MaxStealAttempts == 0 {
		cfg.MaxStealAttempts = defaultWorkStealingConfig().MaxStealAttempts
	}
	if cfg.MinQueueSizeForSteal == 0 {
		cfg.MinQueueSizeForSteal = defaultWorkStealingConfig().MinQueueSizeForSteal
	}
	if cfg.BackoffDelay == 0 {
		cfg.BackoffDelay = defaultWorkStealingConfig().BackoffDelay
	}
	return &WorkStealingScheduler{cfg: cfg, workers: make(map[string]*deque)}
}

// RegisterWorker adds an idle worker with an empty deque.
func (s *WorkStealingScheduler) RegisterWorker(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[id]; ok {
		return
	}
	s.workers[id] = &deque{state: WorkerIdle}
	s.order = append(s.order, id)
}

// Submit pushes task onto the least-loaded registered worker's deque.
func (s *WorkStealingScheduler) Submit(task TaskNode) {
	id := s.leastLoaded()
	if id == "" {
		return
	}
	s.mu.RLock()
	d := s.workers[id]
	s.mu.RUnlock()
	d.pushBack(task)
}

// SubmitBulk distributes tasks round-robin across workers.
func (s *WorkStealingScheduler) SubmitBulk(tasks []TaskNode) {
	s.mu.Lock()
	order := append([]string(nil), s.order...)
	s.mu.Unlock()
	if len(order) == 0 {
		return
	}

	for _, t := range tasks {
		s.mu.Lock()
		id := order[s.rrNext%len(order)]
		s.rrNext++
		s.mu.Unlock()

		s.mu.RLock()
		d := s.workers[id]
		s.mu.RUnlock()
		d.pushBack(t)
	}
}

func (s *WorkStealingScheduler) leastLoaded() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	best := ""
	bestLen := -1
	for _, id := range s.order {
		l := s.workers[id].len()
		if bestLen == -1 || l < bestLen {
			bestLen = l
			best = id
		}
	}
	return best
}

// GetNextTask implements getNextTask(workerId): FIFO from the worker's own
// deque; if empty, attempt to steal per policy before returning to idle.
func (s *WorkStealingScheduler) GetNextTask(workerID string) (TaskNode, bool) {
	s.mu.RLock()
	own, ok := s.workers[workerID]
	s.mu.RUnlock()
	if !ok {
		return TaskNode{}, false
	}

	if t, ok := own.popFront(); ok {
		own.mu.Lock()
		own.state = WorkerBusy
		own.mu.Unlock()
		return t, true
	}

	own.mu.Lock()
	own.state = WorkerStealing
	own.mu.Unlock()

	for attempt := 0; attempt < s.cfg.MaxStealAttempts; attempt++ {
		if s.metrics != nil {
			s.metrics.SchedulerStealAttempts.Inc()
		}
		if t, ok := s.trySteal(workerID, own); ok {
			own.mu.Lock()
			own.state = WorkerBusy
			own.stealAttempts++
			own.stealsWon++
			own.mu.Unlock()
			if s.metrics != nil {
				s.metrics.SchedulerStealsSucceeded.Inc()
			}
			return t, true
		}
		own.mu.Lock()
		own.stealAttempts++
		own.mu.Unlock()
		if attempt < s.cfg.MaxStealAttempts-1 {
			time.Sleep(s.cfg.BackoffDelay)
		}
	}

	own.mu.Lock()
	own.state = WorkerIdle
	own.mu.Unlock()
	return TaskNode{}, false
}

func (s *WorkStealingScheduler) trySteal(workerID string, own *deque) (TaskNode, bool) {
	victimID := s.chooseVictim(workerID)
	if victimID == "" {
		return TaskNode{}, false
	}
	s.mu.RLock()
	victim := s.workers[victimID]
	s.mu.RUnlock()

	if victim.len() < s.cfg.MinQueueSizeForSteal {
		return TaskNode{}, false
	}

	stolen, ok := victim.popBack()
	if !ok {
		return TaskNode{}, false
	}

	if stolen.Splittable && stolen.EstimatedDuration > 1000 {
		half := stolen.EstimatedDuration / 2
		remainder := stolen
		remainder.EstimatedDuration = half
		stolen.EstimatedDuration = half
		victim.pushFront(remainder)
	}

	return stolen, true
}

func (s *WorkStealingScheduler) chooseVictim(exclude string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if id != exclude {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	switch s.cfg.Policy {
	case StealMostLoaded:
		best := ""
		bestLen := -1
		for _, id := range candidates {
			l := s.workers[id].len()
			if l > bestLen {
				bestLen = l
				best = id
			}
		}
		return best
	default: // StealRandom
		return candidates[rand.Intn(len(candidates))]
	}
}

// MarkCompleted records that workerID finished a task, for metrics.
func (s *WorkStealingScheduler) MarkCompleted(workerID string) {
	s.mu.RLock()
	d, ok := s.workers[workerID]
	s.mu.RUnlock()
	if !ok {
		return
	}
	d.mu.Lock()
	d.completed++
	d.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SchedulerTasksCompleted.WithLabelValues("completed").Inc()
	}
}

// Snapshot computes aggregate metrics across all registered workers.
func (s *WorkStealingScheduler) Snapshot() Metrics {
	s.mu.RLock()
	ids := append([]string(nil), s.order...)
	s.mu.RUnlock()

	m := Metrics{WorkerUtilization: make(map[string]float64, len(ids))}
	if len(ids) == 0 {
		m.LoadBalanceScore = 1
		return m
	}

	lengths := make([]int, 0, len(ids))
	totalLen := 0
	for _, id := range ids {
		s.mu.RLock()
		d := s.workers[id]
		s.mu.RUnlock()

		d.mu.Lock()
		l := len(d.tasks)
		m.CompletedTasks += d.completed
		m.StealAttempts += d.stealAttempts
		m.SuccessfulSteals += d.stealsWon
		busy := d.state == WorkerBusy || d.state == WorkerStealing
		d.mu.Unlock()

		lengths = append(lengths, l)
		totalLen += l
		if busy {
			m.WorkerUtilization[id] = 1
		} else {
			m.WorkerUtilization[id] = 0
		}
	}

	m.AvgQueueLength = float64(totalLen) / float64(len(ids))
	m.LoadBalanceScore = loadBalanceScore(lengths)

	if s.metrics != nil {
		s.metrics.SchedulerLoadBalanceScore.Set(m.LoadBalanceScore)
	}

	return m
}

func loadBalanceScore(lengths []int) float64 {
	min, max := lengths[0], lengths[0]
	for _, l := range lengths {
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
	}
	if max == 0 {
		return 1
	}
	return 1 - float64(max-min)/float64(max)
}
