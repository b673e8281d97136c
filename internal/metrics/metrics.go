// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

// Package metrics provides Prometheus instrumentation for the crawl,
// ingestion, training, and digest pipelines. Collectors are registered
// with the default registry and served via the ops endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetcher metrics

	FetchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_requests_total",
			Help: "Total fetch attempts by host and outcome",
		},
		[]string{"host", "outcome"}, // "success", "transport", "http_status", "rejected"
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fetch_duration_seconds",
			Help:    "Duration of fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fetch_breaker_state",
			Help: "Per-host circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"host"},
	)

	// Crawl metrics

	CrawlCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_candidates_total",
			Help: "Candidate URLs per source and disposition",
		},
		[]string{"source", "disposition"}, // "dispatched", "within_window", "duplicate"
	)

	CrawlUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_units_total",
			Help: "Crawl units per source and final state",
		},
		[]string{"source", "state"}, // "done", "skipped"
	)

	// Catalog metrics

	CatalogUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_upserts_total",
			Help: "Catalog upserts by kind",
		},
		[]string{"kind"}, // "upsert", "conflict_retry"
	)

	// Training metrics

	TrainingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"job"}, // "embedding", "recommend"
	)

	TrainingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "training_failures_total",
			Help: "Fatal training run failures by job and reason",
		},
		[]string{"job", "reason"},
	)

	GridCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_candidates_total",
			Help: "Hyperparameter combinations evaluated by stage and outcome",
		},
		[]string{"stage", "outcome"}, // "scored", "failed"
	)

	// Job bus metrics

	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Job handler executions by topic and outcome",
		},
		[]string{"job", "outcome"}, // "success", "failure", "busy"
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of job handler executions in seconds",
			Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"job"},
	)

	// Digest metrics

	DigestDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "digest_deliveries_total",
			Help: "Digest deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)
