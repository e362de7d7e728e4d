// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the requirement
// processing pipeline: task throughput, queue depth, per-stage latency,
// and quality-gate outcomes.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aleutianai/reqpipeline/internal/queue"
)

const (
	metricsNamespace  = "reqpipeline"
	pipelineSubsystem = "pipeline"
	queueSubsystem    = "queue"
)

// PipelineMetrics holds every Prometheus metric registered by the pipeline.
// Initialize once at startup via InitMetrics. Only QueueDepth is written in
// this module (by ObserveQueueStats); the other vectors are registered and
// exported but nothing records to them, so they stay at zero.
type PipelineMetrics struct {
	// TasksSubmittedTotal counts submitted tasks, by priority.
	TasksSubmittedTotal *prometheus.CounterVec

	// TasksCompletedTotal counts terminal outcomes by status
	// (completed, failed) and, for failures, the stage that failed.
	TasksCompletedTotal *prometheus.CounterVec

	// StageDurationSeconds measures wall time spent in each named stage
	// (analysis, generation, quality_check, code_commit).
	StageDurationSeconds *prometheus.HistogramVec

	// QualityScore records the aggregate quality score of each checked
	// task, labeled by whether the gate passed.
	QualityScore *prometheus.HistogramVec

	// QueueDepth mirrors queue.Stats, labeled by job state.
	QueueDepth *prometheus.GaugeVec

	// ProviderCallsTotal counts LLM Provider Registry calls by provider
	// id and outcome (ok, error, fallback).
	ProviderCallsTotal *prometheus.CounterVec
}

// InitMetrics registers every pipeline metric against the default
// Prometheus registry. Panics on duplicate registration, matching the
// once-at-startup contract used across the codebase.
func InitMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		TasksSubmittedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tasks_submitted_total",
				Help:      "Total requirement tasks submitted, by priority",
			},
			[]string{"priority"},
		),
		TasksCompletedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tasks_completed_total",
				Help:      "Total terminal task outcomes, by status and failed stage",
			},
			[]string{"status", "stage"},
		),
		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Wall time spent in each pipeline stage",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		QualityScore: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "quality_score",
				Help:      "Aggregate quality score of checked tasks",
				Buckets:   []float64{0, 25, 50, 70, 85, 90, 95, 100},
			},
			[]string{"gate_passed"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: queueSubsystem,
				Name:      "depth",
				Help:      "Current number of jobs in each queue state",
			},
			[]string{"state"},
		),
		ProviderCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Total LLM Provider Registry calls, by provider id and outcome",
			},
			[]string{"provider", "outcome"},
		),
	}
}

// ObserveQueueStats copies a queue snapshot into the QueueDepth gauge.
// Callers poll queue.Queue.GetQueueStats on a ticker and pass the result
// here; there is no push notification from the queue itself.
func (m *PipelineMetrics) ObserveQueueStats(s queue.Stats) {
	m.QueueDepth.WithLabelValues("waiting").Set(float64(s.Waiting))
	m.QueueDepth.WithLabelValues("active").Set(float64(s.Active))
	m.QueueDepth.WithLabelValues("delayed").Set(float64(s.Delayed))
	m.QueueDepth.WithLabelValues("completed").Set(float64(s.Completed))
	m.QueueDepth.WithLabelValues("failed").Set(float64(s.Failed))
}
