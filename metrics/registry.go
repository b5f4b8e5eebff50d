// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package metrics wraps the Prometheus counters/gauges/histograms shared
// across the core's components. Unlike the teacher's package-level
// `var ... = prometheus.NewCounterVec(...)` plus `init() { MustRegister }`
// pattern, a Registry is an explicit instance with its own
// prometheus.Registerer, constructed once at process startup and passed
// to every component that needs it — no metric is package-level mutable
// state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric the core emits, grouped by the component
// that owns it. Components that accept a *Registry treat it as optional
// (skip recording when nil) so tests and single-shot callers aren't
// forced to wire one up.
type Registry struct {
	SchedulerLoadBalanceScore prometheus.Gauge
	SchedulerStealAttempts    prometheus.Counter
	SchedulerStealsSucceeded  prometheus.Counter
	SchedulerTasksCompleted   *prometheus.CounterVec // label: outcome

	RouterRequestsTotal   *prometheus.CounterVec // labels: provider, outcome
	RouterFallbackTotal   prometheus.Counter
	RouterRequestDuration *prometheus.HistogramVec // label: provider

	WorkflowsStarted   prometheus.Counter
	WorkflowsCompleted *prometheus.CounterVec // label: status
	ActivitiesExecuted prometheus.Counter
	ActivitiesRetried  prometheus.Counter
	CheckpointsCreated prometheus.Counter
}

// New constructs a Registry and registers every metric against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests, multiple
// instances in one process) or prometheus.DefaultRegisterer to expose
// metrics on the process-wide /metrics endpoint.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		SchedulerLoadBalanceScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "adocore_scheduler_load_balance_score",
			Help: "Work-stealing scheduler load balance score (1 - (max-min)/max over worker queue lengths).",
		}),
		SchedulerStealAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adocore_scheduler_steal_attempts_total",
			Help: "Total work-stealing attempts across all workers.",
		}),
		SchedulerStealsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adocore_scheduler_steals_succeeded_total",
			Help: "Total work-stealing attempts that returned a stolen task.",
		}),
		SchedulerTasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adocore_scheduler_tasks_completed_total",
			Help: "Total tasks completed by the parallel scheduler, by outcome.",
		}, []string{"outcome"}),

		RouterRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adocore_llm_router_requests_total",
			Help: "Total LLM router completion requests, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		RouterFallbackTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adocore_llm_router_fallback_total",
			Help: "Total completions that used at least one fallback chain hop.",
		}),
		RouterRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adocore_llm_router_request_duration_seconds",
			Help:    "LLM completion request latency by provider.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),

		WorkflowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adocore_workflow_started_total",
			Help: "Total workflow executions started.",
		}),
		WorkflowsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "adocore_workflow_completed_total",
			Help: "Total workflow executions reaching a terminal state, by status.",
		}, []string{"status"}),
		ActivitiesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adocore_workflow_activities_executed_total",
			Help: "Total activity invocations across all workflows.",
		}),
		ActivitiesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adocore_workflow_activities_retried_total",
			Help: "Total activity retry attempts across all workflows.",
		}),
		CheckpointsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "adocore_workflow_checkpoints_created_total",
			Help: "Total workflow step checkpoints written.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.SchedulerLoadBalanceScore, m.SchedulerStealAttempts, m.SchedulerStealsSucceeded, m.SchedulerTasksCompleted,
		m.RouterRequestsTotal, m.RouterFallbackTotal, m.RouterRequestDuration,
		m.WorkflowsStarted, m.WorkflowsCompleted, m.ActivitiesExecuted, m.ActivitiesRetried, m.CheckpointsCreated,
	} {
		reg.MustRegister(c)
	}

	return m
}
