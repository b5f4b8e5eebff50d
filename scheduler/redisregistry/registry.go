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

// Package redisregistry is a Redis-backed scheduler.WorkerRegistry for
// multi-process deployments, where worker liveness has to be visible
// across orchestrator instances rather than held in one process's memory.
package redisregistry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ado-project/adocore/scheduler"
)

const indexKey = "ado:workers:index"

func workerKey(id string) string { return fmt.Sprintf("ado:worker:%s", id) }

// Registry mirrors scheduler.WorkerRegistry's shape, but a worker's
// heartbeat key carries a Redis TTL: a stalled worker expires out of the
// keyspace on its own, instead of relying on a cleanup sweep.
type Registry struct {
	client       *redis.Client
	heartbeatTTL time.Duration
}

// New builds a registry against client; heartbeatTTL of zero falls back
// to the same 300s default as the in-memory registry.
func New(client *redis.Client, heartbeatTTL time.Duration) *Registry {
	if heartbeatTTL <= 0 {
		heartbeatTTL = 300 * time.Second
	}
	return &Registry{client: client, heartbeatTTL: heartbeatTTL}
}

// Register adds a worker record with a fresh TTL.
func (r *Registry) Register(ctx context.Context, id string, capabilities []string) error {
	pipe := r.client.Pipeline()
	pipe.HSet(ctx, workerKey(id), map[string]interface{}{
		"id":           id,
		"capabilities": joinCapabilities(capabilities),
		"status":       string(scheduler.WorkerIdle),
		"queueLength":  0,
	})
	pipe.Expire(ctx, workerKey(id), r.heartbeatTTL)
	pipe.SAdd(ctx, indexKey, id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisregistry: register %s: %w", id, err)
	}
	return nil
}

// Unregister removes a worker immediately rather than waiting on its TTL.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, workerKey(id))
	pipe.SRem(ctx, indexKey, id)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisregistry: unregister %s: %w", id, err)
	}
	return nil
}

// UpdateHeartbeat refreshes a worker's reported state and renews its TTL.
func (r *Registry) UpdateHeartbeat(ctx context.Context, id string, status scheduler.WorkerState, queueLength int) (bool, error) {
	exists, err := r.client.Exists(ctx, workerKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redisregistry: heartbeat %s: %w", id, err)
	}
	if exists == 0 {
		return false, nil
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, workerKey(id), map[string]interface{}{
		"status":      string(status),
		"queueLength": queueLength,
	})
	pipe.Expire(ctx, workerKey(id), r.heartbeatTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redisregistry: heartbeat %s: %w", id, err)
	}
	return true, nil
}

// GetWorker fetches one worker's current record, or ok=false if it has
// expired or was never registered.
func (r *Registry) GetWorker(ctx context.Context, id string) (scheduler.Worker, bool, error) {
	fields, err := r.client.HGetAll(ctx, workerKey(id)).Result()
	if err != nil {
		return scheduler.Worker{}, false, fmt.Errorf("redisregistry: get %s: %w", id, err)
	}
	if len(fields) == 0 {
		return scheduler.Worker{}, false, nil
	}
	w, err := workerFromFields(id, fields)
	return w, true, err
}

// ListWorkers returns every worker still present in the keyspace, pruning
// ids from the index set whose heartbeat key has already expired.
func (r *Registry) ListWorkers(ctx context.Context) ([]scheduler.Worker, error) {
	ids, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redisregistry: list: %w", err)
	}

	out := make([]scheduler.Worker, 0, len(ids))
	for _, id := range ids {
		w, ok, err := r.GetWorker(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.client.SRem(ctx, indexKey, id)
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

// GetIdleWorkers returns workers currently reporting WorkerIdle.
func (r *Registry) GetIdleWorkers(ctx context.Context) ([]scheduler.Worker, error) {
	all, err := r.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	var idle []scheduler.Worker
	for _, w := range all {
		if w.Status == scheduler.WorkerIdle {
			idle = append(idle, w)
		}
	}
	return idle, nil
}

func workerFromFields(id string, fields map[string]string) (scheduler.Worker, error) {
	queueLength, _ := strconv.Atoi(fields["queueLength"])
	return scheduler.Worker{
		ID:           id,
		Capabilities: splitCapabilities(fields["capabilities"]),
		Status:       scheduler.WorkerState(fields["status"]),
		QueueLength:  queueLength,
	}, nil
}

func joinCapabilities(caps []string) string {
	out := ""
	for i, c := range caps {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

func splitCapabilities(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return out
}
