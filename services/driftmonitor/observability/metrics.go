// Copyright (C) 2025 TitaniumShinobi
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the
// drift monitor.
//
// # Description
//
// This package implements Prometheus metrics for monitoring drift
// checking operations. Metrics include:
//   - Check counters (by trigger and outcome)
//   - Drift detection counters and score histograms
//   - Signal collection failure counters
//   - Check duration histograms
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "chatty"

// Subsystem for drift monitoring metrics
const driftSubsystem = "drift"

// DriftMetrics holds all Prometheus metrics for drift check operations.
//
// # Fields
//
//   - ChecksTotal: Counter of drift checks by trigger and outcome
//   - DriftDetectedTotal: Counter of checks that crossed the drift threshold
//   - DriftScore: Histogram of observed drift scores
//   - SignalFailuresTotal: Counter of degraded signal collections by source
//   - CheckDurationSeconds: Histogram of end-to-end check latency
//
// # Thread Safety
//
// All operations are thread-safe.
type DriftMetrics struct {
	// ChecksTotal counts drift checks by trigger and outcome.
	// Labels: trigger (api, sweep, cli), outcome (baseline, stable, drift, failed)
	ChecksTotal *prometheus.CounterVec

	// DriftDetectedTotal counts checks whose score crossed the
	// significance threshold. Labels: trigger
	DriftDetectedTotal *prometheus.CounterVec

	// DriftScore observes computed drift scores for non-baseline checks.
	DriftScore prometheus.Histogram

	// SignalFailuresTotal counts signal sources that degraded to an
	// empty reading. Labels: source (persona, behavior, legal_doc, last_packet)
	SignalFailuresTotal *prometheus.CounterVec

	// CheckDurationSeconds measures end-to-end check latency.
	// Labels: trigger
	CheckDurationSeconds *prometheus.HistogramVec
}

// NewDriftMetrics creates and registers all drift metrics on the given
// registerer. Pass prometheus.DefaultRegisterer in production; tests use
// a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewDriftMetrics(reg prometheus.Registerer) *DriftMetrics {
	factory := promauto.With(reg)

	return &DriftMetrics{
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: driftSubsystem,
				Name:      "checks_total",
				Help:      "Total drift checks by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),

		DriftDetectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: driftSubsystem,
				Name:      "detected_total",
				Help:      "Total checks whose drift score crossed the significance threshold",
			},
			[]string{"trigger"},
		),

		DriftScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: driftSubsystem,
				Name:      "score",
				Help:      "Observed drift scores for non-baseline checks",
				Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9, 1.0},
			},
		),

		SignalFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: driftSubsystem,
				Name:      "signal_failures_total",
				Help:      "Total signal sources that degraded to an empty reading",
			},
			[]string{"source"},
		),

		CheckDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: driftSubsystem,
				Name:      "check_duration_seconds",
				Help:      "End-to-end drift check latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"trigger"},
		),
	}
}

// =============================================================================
// Label Values
// =============================================================================

// Trigger identifies what initiated a drift check.
type Trigger string

const (
	// TriggerAPI is a check requested over HTTP.
	TriggerAPI Trigger = "api"

	// TriggerSweep is a check run by the background scheduler.
	TriggerSweep Trigger = "sweep"

	// TriggerCLI is a check run from the command line.
	TriggerCLI Trigger = "cli"
)

// Outcome categorizes a completed check for the checks counter.
type Outcome string

const (
	// OutcomeBaseline indicates the first fingerprint for a construct.
	OutcomeBaseline Outcome = "baseline"

	// OutcomeStable indicates a score below the significance threshold.
	OutcomeStable Outcome = "stable"

	// OutcomeDrift indicates a recorded drift detection.
	OutcomeDrift Outcome = "drift"

	// OutcomeFailed indicates the check aborted on an internal error.
	OutcomeFailed Outcome = "failed"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordCheck records a completed drift check. All recorders are nil-safe
// so callers without wired metrics need no guards.
func (m *DriftMetrics) RecordCheck(trigger Trigger, outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(string(trigger), string(outcome)).Inc()
	m.CheckDurationSeconds.WithLabelValues(string(trigger)).Observe(seconds)
}

// RecordDrift records a detection that crossed the significance threshold.
func (m *DriftMetrics) RecordDrift(trigger Trigger, score float64) {
	if m == nil {
		return
	}
	m.DriftDetectedTotal.WithLabelValues(string(trigger)).Inc()
	m.DriftScore.Observe(score)
}

// RecordScore observes a score for a stable (non-drift) check.
func (m *DriftMetrics) RecordScore(score float64) {
	if m == nil {
		return
	}
	m.DriftScore.Observe(score)
}

// RecordSignalFailure records a signal source that degraded.
func (m *DriftMetrics) RecordSignalFailure(source string) {
	if m == nil {
		return
	}
	m.SignalFailuresTotal.WithLabelValues(source).Inc()
}
