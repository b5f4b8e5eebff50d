// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package llm

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ado-project/adocore/metrics"
)

const unhealthyRehealDelay = 60 * time.Second

// RouterConfig configures a Router.
type RouterConfig struct {
	Providers           []ProviderConfig
	Chains              []Chain
	LoadBalancing       LoadBalancingStrategy
	EnableFailover      bool
	EnableCostTracking  bool
	EnableObservability bool
	Timeout             time.Duration
	CostTracker         CostTracker
	Logger              *log.Logger
}

// Router coordinates completion requests across multiple providers per
// spec.md §4.5: chain-based fallback with silent skip of unhealthy
// providers, automatic unhealthy-marking on rate limit errors, and
// selection strategies for requests made outside of a chain.
type Router struct {
	mu sync.Mutex

	providers map[string]*ProviderConfig
	order     []string // registration order, for round-robin
	chains    map[string]Chain
	chainIDs  []string

	strategy            LoadBalancingStrategy
	enableFailover      bool
	enableCostTracking  bool
	enableObservability bool
	timeout             time.Duration
	costTracker         CostTracker
	logger              *log.Logger

	rrNext       int
	latencyStats map[string]time.Duration

	rng   *rand.Rand
	rngMu sync.Mutex

	metrics *metrics.Registry
}

// SetMetrics attaches a Registry that Complete updates as a side effect.
// Optional: a Router with no Registry behaves exactly as before.
func (r *Router) SetMetrics(m *metrics.Registry) {
	r.metrics = m
}

// NewRouter builds a Router from cfg.
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		providers:           make(map[string]*ProviderConfig, len(cfg.Providers)),
		chains:              make(map[string]Chain, len(cfg.Chains)),
		strategy:            cfg.LoadBalancing,
		enableFailover:      cfg.EnableFailover,
		enableCostTracking:  cfg.EnableCostTracking,
		enableObservability: cfg.EnableObservability,
		timeout:             cfg.Timeout,
		costTracker:         cfg.CostTracker,
		logger:              cfg.Logger,
		latencyStats:        make(map[string]time.Duration),
		rng:                 rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if r.logger == nil {
		r.logger = log.New(os.Stdout, "[llm-router] ", log.LstdFlags)
	}
	if r.strategy == "" {
		r.strategy = StrategyRoundRobin
	}

	for i := range cfg.Providers {
		pc := cfg.Providers[i]
		r.providers[pc.Name] = &pc
		r.order = append(r.order, pc.Name)
	}
	for _, c := range cfg.Chains {
		r.chains[c.ID] = c
		r.chainIDs = append(r.chainIDs, c.ID)
	}
	return r
}

// Complete runs spec.md §4.5's algorithm: resolve a chain (explicit id,
// or the first registered chain), try its providers in order skipping
// unhealthy ones silently, and on failure classify rate-limit errors to
// mark the provider unhealthy with a 60s re-heal window.
func (r *Router) Complete(ctx context.Context, req CompletionRequest, chainID string) (*Result, error) {
	chain, err := r.resolveChain(chainID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	usedFallback := false

	for _, name := range chain.Providers {
		r.mu.Lock()
		pc, ok := r.providers[name]
		healthy := ok && r.isHealthyLocked(pc)
		r.mu.Unlock()

		if !ok || !healthy {
			continue // silent skip: no fallback counter increment
		}

		start := time.Now()
		resp, err := pc.Provider.Complete(ctx, req)
		latency := time.Since(start)

		if err != nil {
			lastErr = err
			if isRateLimitError(err) {
				r.markUnhealthy(name, time.Now().Add(unhealthyRehealDelay))
			}
			if r.metrics != nil {
				r.metrics.RouterRequestsTotal.WithLabelValues(name, "error").Inc()
			}
			usedFallback = true // this chain slot failed; any subsequent success used fallback
			continue
		}

		if r.metrics != nil {
			r.metrics.RouterRequestsTotal.WithLabelValues(name, "success").Inc()
			r.metrics.RouterRequestDuration.WithLabelValues(name).Observe(latency.Seconds())
			if usedFallback {
				r.metrics.RouterFallbackTotal.Inc()
			}
		}

		r.recordLatency(name, latency)
		cost := computeCost(pc.Cost, resp.Usage)

		if r.enableCostTracking && r.costTracker != nil {
			if err := r.costTracker.RecordUsage(ctx, name, resp.Usage, cost); err != nil {
				r.logger.Printf("cost tracking failed for %s: %v", name, err)
			}
		}

		result := &Result{
			Content:      resp.Content,
			Provider:     name,
			Model:        resp.Model,
			Usage:        resp.Usage,
			Cost:         cost,
			Latency:      latency,
			UsedFallback: usedFallback,
		}
		if r.enableObservability {
			result.TraceID = newTraceID()
		}
		return result, nil
	}

	if lastErr == nil {
		return nil, fmt.Errorf("llm: no healthy providers in chain %q", chain.ID)
	}
	return nil, fmt.Errorf("llm: all providers in chain %q failed: %w", chain.ID, lastErr)
}

func (r *Router) resolveChain(chainID string) (Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if chainID != "" {
		c, ok := r.chains[chainID]
		if !ok {
			return Chain{}, fmt.Errorf("llm: unknown chain %q", chainID)
		}
		return c, nil
	}
	if len(r.chainIDs) == 0 {
		return Chain{}, fmt.Errorf("llm: no chains configured")
	}
	return r.chains[r.chainIDs[0]], nil
}

// isHealthyLocked re-heals a provider whose unhealthy window has
// elapsed, must be called with r.mu held.
func (r *Router) isHealthyLocked(pc *ProviderConfig) bool {
	if pc.Healthy {
		return true
	}
	if !pc.unhealthyUntil.IsZero() && time.Now().After(pc.unhealthyUntil) {
		pc.Healthy = true
		pc.unhealthyUntil = time.Time{}
		return true
	}
	return false
}

func (r *Router) markUnhealthy(name string, until time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pc, ok := r.providers[name]; ok {
		pc.Healthy = false
		pc.unhealthyUntil = until
	}
}

func (r *Router) recordLatency(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latencyStats[name] = d
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "429")
}

// SelectOutsideChain picks a provider per the Router's configured
// LoadBalancingStrategy, for callers that want provider selection
// without a predefined fallback chain.
func (r *Router) SelectOutsideChain() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var healthy []string
	for _, name := range r.order {
		if r.isHealthyLocked(r.providers[name]) {
			healthy = append(healthy, name)
		}
	}
	if len(healthy) == 0 {
		return "", fmt.Errorf("llm: no healthy providers")
	}

	switch r.strategy {
	case StrategyLeastCost:
		return r.selectLeastCostLocked(healthy), nil
	case StrategyWeighted:
		return r.selectWeightedLocked(healthy), nil
	case StrategyLeastLatency:
		return r.selectLeastLatencyLocked(healthy), nil
	default:
		return r.selectRoundRobinLocked(healthy), nil
	}
}

func (r *Router) selectRoundRobinLocked(healthy []string) string {
	name := healthy[r.rrNext%len(healthy)]
	r.rrNext++
	return name
}

func (r *Router) selectLeastCostLocked(healthy []string) string {
	best := healthy[0]
	bestAvg := averageCost(r.providers[best].Cost)
	for _, name := range healthy[1:] {
		avg := averageCost(r.providers[name].Cost)
		if avg < bestAvg {
			bestAvg = avg
			best = name
		}
	}
	return best
}

func averageCost(c Cost) float64 {
	return (c.Input + c.Output) / 2
}

func (r *Router) selectWeightedLocked(healthy []string) string {
	total := 0
	for _, name := range healthy {
		total += r.providers[name].Priority
	}
	if total <= 0 {
		return healthy[0]
	}

	r.rngMu.Lock()
	threshold := r.rng.Intn(total)
	r.rngMu.Unlock()

	cum := 0
	for _, name := range healthy {
		cum += r.providers[name].Priority
		if threshold < cum {
			return name
		}
	}
	return healthy[len(healthy)-1]
}

func (r *Router) selectLeastLatencyLocked(healthy []string) string {
	best := healthy[0]
	bestLatency, tracked := r.latencyStats[best]
	if !tracked {
		return best
	}
	for _, name := range healthy[1:] {
		if lat, ok := r.latencyStats[name]; ok && lat < bestLatency {
			bestLatency = lat
			best = name
		}
	}
	return best
}

func newTraceID() string {
	return fmt.Sprintf("trace-%d-%06d", time.Now().UnixMilli(), rand.Intn(1_000_000))
}
