// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command orchestrator is the process that hosts the Task Orchestrator:
// it wires the state store, provider registry, recovery manager, and
// adapter resolver together, then blocks serving a Prometheus /metrics
// endpoint until terminated.
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	ADO_CONFIG_PATH    - path to a YAML config file (optional)
//	ADO_METRICS_PORT   - port for the /metrics endpoint (default: 9090)
//	DATABASE_URL       - PostgreSQL DSN for the state store; sqlite
//	                     (./ado.db) is used when unset
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // postgres driver, registered for sql.Open("postgres", ...)
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ado-project/adocore/adapter"
	"github.com/ado-project/adocore/checkpoint"
	"github.com/ado-project/adocore/checkpoint/memstore"
	cpgstore "github.com/ado-project/adocore/checkpoint/pgstore"
	"github.com/ado-project/adocore/metrics"
	"github.com/ado-project/adocore/orchestrator"
	"github.com/ado-project/adocore/provider"
	"github.com/ado-project/adocore/recovery"
	"github.com/ado-project/adocore/shared/config"
	"github.com/ado-project/adocore/shared/logger"
	"github.com/ado-project/adocore/state"
	spgstore "github.com/ado-project/adocore/state/pgstore"
	"github.com/ado-project/adocore/state/sqlitestore"
)

// staticAdapterResolver resolves providers to pre-registered adapter
// instances. Real deployments populate this at startup with one entry
// per coding-agent adapter they run (claude-code, codex, etc.); ops
// that register no adapters get a functioning Orchestrator that accepts
// such tasks and marks each one failed when its provider has no adapter.
type staticAdapterResolver struct {
	adapters map[string]adapter.Adapter
}

func (r staticAdapterResolver) ResolveAdapter(providerID string) (adapter.Adapter, error) {
	ad, ok := r.adapters[providerID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no adapter registered for provider %q", providerID)
	}
	return ad, nil
}

func main() {
	log := logger.New("orchestrator")

	cfg, err := config.Load(os.Getenv("ADO_CONFIG_PATH"))
	if err != nil {
		log.Log(logger.ERROR, "", "", "failed to load config", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	taskStore, closeStore, err := openTaskStore()
	if err != nil {
		log.Log(logger.ERROR, "", "", "failed to open state store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer closeStore()

	checkpointStore, closeCheckpoints, err := openCheckpointStore()
	if err != nil {
		log.Log(logger.ERROR, "", "", "failed to open checkpoint store", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer closeCheckpoints()

	reg := provider.NewRegistry()
	matcher := provider.NewMatcher()
	checkpoints := checkpoint.NewManager(checkpointStore, 0)
	recoveryPolicy := recovery.RetryPolicy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialDelay:      cfg.Retry.InitialDelay,
		MaxDelay:          cfg.Retry.MaxDelay,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}
	recoveryMgr := recovery.NewManager(checkpoints, recoveryPolicy)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	// metrics.New registers every adocore_* collector against promReg;
	// components that need to record against them (a scheduler, an
	// llm.Router, a workflow.Engine) take the returned Registry via
	// SetMetrics once the embedder constructs them.
	metrics.New(promReg)

	resolver := staticAdapterResolver{adapters: make(map[string]adapter.Adapter)}
	orch := orchestrator.NewOrchestrator(taskStore, reg, matcher, resolver, recoveryMgr, orchestrator.Options{
		FailIfNoProvider: false,
	})
	log.Log(logger.INFO, "", "", "orchestrator ready", map[string]interface{}{"routing_strategy": cfg.RoutingStrategy})

	// orch is the library's entry point for submitting and observing tasks;
	// this binary exposes no transport of its own, so embedders call
	// orch.Submit/Subscribe directly or front it with their own RPC layer.
	_ = orch

	port := os.Getenv("ADO_METRICS_PORT")
	if port == "" {
		port = "9090"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		log.Log(logger.INFO, "", "", "metrics endpoint listening", map[string]interface{}{"port": port})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Log(logger.ERROR, "", "", "metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Log(logger.INFO, "", "", "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openTaskStore() (state.Store, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return spgstore.OpenDB(db), func() { _ = db.Close() }, nil
	}
	st, err := sqlitestore.Open("./ado.db")
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	return st, func() {}, nil
}

func openCheckpointStore() (checkpoint.Store, func(), error) {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return cpgstore.New(db), func() { _ = db.Close() }, nil
	}
	return memstore.New(), func() {}, nil
}
