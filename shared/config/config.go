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

// Package config loads the orchestration core's tunables from a YAML file,
// with ADO_-prefixed environment variables overriding individual fields.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryPolicy holds the task retry settings that cmd/orchestrator passes
// to recovery.Manager. workflow.Engine does not read it.
type RetryPolicy struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// EscalationPolicy holds the knobs EscalationEngine.Decide reads.
type EscalationPolicy struct {
	MaxRetries           int  `yaml:"max_retries"`
	MaxApproaches        int  `yaml:"max_approaches"`
	AllowPartialComplete bool `yaml:"allow_partial_completion"`
	FastEscalation       bool `yaml:"fast_escalation"`
}

// MergeConfig holds MergeCoordinator thresholds.
type MergeConfig struct {
	HighRiskGlobs              []string `yaml:"high_risk_globs"`
	MaxAutoResolveLines        int      `yaml:"max_auto_resolve_lines"`
	SemanticSimilarityThresh   float64  `yaml:"semantic_similarity_threshold"`
	EnableAIStructuralResolve  bool     `yaml:"enable_ai_structural_resolve"`
}

// Config is the full set of recognized options from spec.md §6.
type Config struct {
	RoutingStrategy    string        `yaml:"routing_strategy"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	TaskTimeout        time.Duration `yaml:"task_timeout"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`
	StaleWorkerTimeout time.Duration `yaml:"stale_worker_timeout"`

	Retry      RetryPolicy      `yaml:"retry"`
	Escalation EscalationPolicy `yaml:"escalation"`
	Merge      MergeConfig      `yaml:"merge"`
}

// Default returns the configuration spec.md §6 names as defaults
// (stale-worker threshold 300s, otherwise conservative operational values).
func Default() Config {
	return Config{
		RoutingStrategy:    "weighted",
		MaxConcurrency:     8,
		TaskTimeout:        10 * time.Minute,
		CheckpointInterval: 30 * time.Second,
		StaleWorkerTimeout: 300 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts:       3,
			InitialDelay:      time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2.0,
		},
		Escalation: EscalationPolicy{
			MaxRetries:           3,
			MaxApproaches:        2,
			AllowPartialComplete: true,
			FastEscalation:       true,
		},
		Merge: MergeConfig{
			HighRiskGlobs:             []string{"**/security/**", ".env*", "**/migrations/**"},
			MaxAutoResolveLines:       50,
			SemanticSimilarityThresh:  0.75,
			EnableAIStructuralResolve: true,
		},
	}
}

// Load reads a YAML config file, falling back to Default() for a missing
// path, then applies any ADO_-prefixed environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides follows the teacher's os.Getenv-based override
// convention: every field that can reasonably be tuned per-deployment gets
// an ADO_ prefixed variable, read only if set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ADO_ROUTING_STRATEGY"); v != "" {
		cfg.RoutingStrategy = v
	}
	if v := os.Getenv("ADO_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConcurrency = n
		}
	}
	if v := os.Getenv("ADO_TASK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TaskTimeout = d
		}
	}
	if v := os.Getenv("ADO_CHECKPOINT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CheckpointInterval = d
		}
	}
	if v := os.Getenv("ADO_STALE_WORKER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StaleWorkerTimeout = d
		}
	}
	if v := os.Getenv("ADO_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("ADO_ESCALATION_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Escalation.MaxRetries = n
		}
	}
	if v := os.Getenv("ADO_ESCALATION_FAST"); v != "" {
		cfg.Escalation.FastEscalation = v == "true" || v == "1"
	}
}
