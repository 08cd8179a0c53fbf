/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines the Prometheus metrics for the agent-operations
// execution core: run lifecycle, step execution, policy decisions, approval
// turnaround, idempotency replay, and webhook dispatch.
//
// Metric naming follows Prometheus conventions:
//   - agentcore_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RunsTotal counts orchestrated runs by task class and terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_runs_total",
			Help: "Total number of runs by task class and terminal status.",
		},
		[]string{"task_class", "status"},
	)

	// RunDurationSeconds is a histogram of end-to-end run duration.
	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_run_duration_seconds",
			Help:    "Duration of runs in seconds, from creation to terminal state.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		},
		[]string{"task_class"},
	)

	// ActiveRuns is the number of runs currently in the running state.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_active_runs",
			Help: "Number of runs currently in the running state.",
		},
	)

	// StepsTotal counts step executions by node type and outcome.
	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_steps_total",
			Help: "Total step executions by node type and outcome.",
		},
		[]string{"node_type", "outcome"},
	)

	// StepDurationSeconds is a histogram of single-step execution time.
	StepDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_step_duration_seconds",
			Help:    "Duration of a single step execution in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
		[]string{"node_type"},
	)

	// PolicyDecisionsTotal counts policy engine verdicts by policy type and zone.
	PolicyDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_policy_decisions_total",
			Help: "Total policy evaluations by policy type, zone, and verdict.",
		},
		[]string{"policy_type", "zone", "verdict"},
	)

	// ApprovalRequestsTotal counts approval requests by zone and outcome.
	ApprovalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_approval_requests_total",
			Help: "Total approval requests by zone and outcome (approved/denied/expired/auto).",
		},
		[]string{"zone", "outcome"},
	)

	// ApprovalWaitSeconds is a histogram of approval turnaround time.
	ApprovalWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_approval_wait_seconds",
			Help:    "Seconds between approval request creation and decision.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		},
	)

	// IdempotencyReplaysTotal counts idempotency ledger lookups by resolution kind.
	IdempotencyReplaysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_idempotency_replays_total",
			Help: "Total idempotency ledger lookups by resolution kind.",
		},
		[]string{"kind"},
	)

	// QualityGateFailuresTotal counts quality-gate check failures by check name.
	QualityGateFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_quality_gate_failures_total",
			Help: "Total quality-gate check failures by check name.",
		},
		[]string{"check"},
	)

	// ComplianceGateFailuresTotal counts compliance gate denials by regulation tag.
	ComplianceGateFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_compliance_gate_failures_total",
			Help: "Total compliance gate denials by regulation tag.",
		},
		[]string{"regulation"},
	)

	// WebhookDeliveriesTotal counts inbound webhook verifications by provider and result.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_webhook_deliveries_total",
			Help: "Total inbound webhook verification attempts by provider and result.",
		},
		[]string{"provider", "result"},
	)
)

// Registry is the package-local Prometheus registry. Callers that expose a
// /metrics endpoint register it with their own HTTP mux; the core never
// binds a listener itself.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		RunsTotal,
		RunDurationSeconds,
		ActiveRuns,
		StepsTotal,
		StepDurationSeconds,
		PolicyDecisionsTotal,
		ApprovalRequestsTotal,
		ApprovalWaitSeconds,
		IdempotencyReplaysTotal,
		QualityGateFailuresTotal,
		ComplianceGateFailuresTotal,
		WebhookDeliveriesTotal,
	)
}

// RecordRunComplete records metrics for a run that reached a terminal state.
func RecordRunComplete(taskClass, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(taskClass, status).Inc()
	RunDurationSeconds.WithLabelValues(taskClass).Observe(duration.Seconds())
}

// RecordStep records a single step execution.
func RecordStep(nodeType, outcome string, duration time.Duration) {
	StepsTotal.WithLabelValues(nodeType, outcome).Inc()
	StepDurationSeconds.WithLabelValues(nodeType).Observe(duration.Seconds())
}

// RecordPolicyDecision records a policy engine verdict.
func RecordPolicyDecision(policyType, zone, verdict string) {
	PolicyDecisionsTotal.WithLabelValues(policyType, zone, verdict).Inc()
}

// RecordApprovalOutcome records a terminal approval-request outcome and its
// turnaround latency.
func RecordApprovalOutcome(zone, outcome string, wait time.Duration) {
	ApprovalRequestsTotal.WithLabelValues(zone, outcome).Inc()
	ApprovalWaitSeconds.Observe(wait.Seconds())
}

// RecordIdempotencyLookup records an idempotency ledger resolution.
func RecordIdempotencyLookup(kind string) {
	IdempotencyReplaysTotal.WithLabelValues(kind).Inc()
}

// RecordQualityGateFailure records a single failed quality-gate check.
func RecordQualityGateFailure(check string) {
	QualityGateFailuresTotal.WithLabelValues(check).Inc()
}

// RecordComplianceFailure records a single compliance gate denial.
func RecordComplianceFailure(regulation string) {
	ComplianceGateFailuresTotal.WithLabelValues(regulation).Inc()
}

// RecordWebhookDelivery records an inbound webhook verification attempt.
func RecordWebhookDelivery(provider, result string) {
	WebhookDeliveriesTotal.WithLabelValues(provider, result).Inc()
}
