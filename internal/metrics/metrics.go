/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the remediation controller.
//
// All metrics are registered with the controller-runtime default registry
// so they are automatically served on the metrics endpoint.
//
// Metric naming follows Prometheus conventions:
//   - autofix_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// FailuresDetectedTotal counts classified workload failures by reason.
	FailuresDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_failures_detected_total",
			Help: "Total workload failures detected by reason.",
		},
		[]string{"reason"},
	)

	// DebounceSuppressedTotal counts failures dropped by the cooldown gate.
	DebounceSuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autofix_debounce_suppressed_total",
			Help: "Total failures suppressed by the debounce cooldown.",
		},
	)

	// SilencedTotal counts failures skipped because the workload is silenced.
	SilencedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autofix_silenced_total",
			Help: "Total failures skipped for silenced workloads.",
		},
	)

	// DecisionsTotal counts policy outcomes by branch.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_decisions_total",
			Help: "Total policy decisions by branch.",
		},
		[]string{"branch"},
	)

	// ExecutionsTotal counts remediation commands by result status.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_executions_total",
			Help: "Total remediation command executions by status.",
		},
		[]string{"status"},
	)

	// ExecutionDurationSeconds is a histogram of remediation command duration.
	ExecutionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autofix_execution_duration_seconds",
			Help:    "Duration of remediation commands in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// TokensUsedTotal counts tokens consumed by model.
	TokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_tokens_used_total",
			Help: "Total tokens consumed by diagnostic queries.",
		},
		[]string{"model"},
	)

	// ApprovalsTotal counts approval callbacks by decision.
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autofix_approvals_total",
			Help: "Total approval callbacks by decision.",
		},
		[]string{"decision"},
	)

	// PipelineErrorsTotal counts pipeline runs that ended in an internal error.
	PipelineErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autofix_pipeline_errors_total",
			Help: "Total pipeline runs aborted by an internal error.",
		},
	)

	// TrackedWorkloads is the number of remediation state entries.
	TrackedWorkloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autofix_tracked_workloads",
			Help: "Number of workloads with remediation state.",
		},
	)
)

func init() {
	ctrlmetrics.Registry.MustRegister(
		FailuresDetectedTotal,
		DebounceSuppressedTotal,
		SilencedTotal,
		DecisionsTotal,
		ExecutionsTotal,
		ExecutionDurationSeconds,
		TokensUsedTotal,
		ApprovalsTotal,
		PipelineErrorsTotal,
		TrackedWorkloads,
	)
}

// RecordFailure records a classified failure.
func RecordFailure(reason string) {
	FailuresDetectedTotal.WithLabelValues(reason).Inc()
}

// RecordDecision records a policy branch.
func RecordDecision(branch string) {
	DecisionsTotal.WithLabelValues(branch).Inc()
}

// RecordExecution records one remediation command.
func RecordExecution(status string, duration time.Duration) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDurationSeconds.Observe(duration.Seconds())
}

// RecordTokens records token usage of a diagnostic query.
func RecordTokens(model string, tokens int64) {
	TokensUsedTotal.WithLabelValues(model).Add(float64(tokens))
}

// RecordApproval records an approval callback.
func RecordApproval(decision string) {
	ApprovalsTotal.WithLabelValues(decision).Inc()
}

// SetTrackedWorkloads updates the remediation state gauge.
func SetTrackedWorkloads(n int) {
	TrackedWorkloads.Set(float64(n))
}
