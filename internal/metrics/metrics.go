// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics defines the Prometheus collectors for rigchat.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Generation metrics
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigchat_generations_total",
			Help: "Model responses by outcome",
		},
		[]string{"outcome"}, // finished, cancelled, error
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rigchat_generation_duration_seconds",
			Help:    "Wall time from request to settlement",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	GenerationsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rigchat_generations_in_flight",
			Help: "Model responses currently streaming",
		},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigchat_generation_errors_total",
			Help: "Failed model responses by error kind",
		},
		[]string{"kind"},
	)

	// Stream metrics
	ChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rigchat_stream_chunks_total",
			Help: "Message chunks received from the backend",
		},
	)

	ParseErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rigchat_stream_parse_errors_total",
			Help: "Stream lines that could not be decoded",
		},
	)

	SnapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rigchat_snapshots_total",
			Help: "Partial responses written to storage",
		},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigchat_tokens_total",
			Help: "Tokens reported by the backend",
		},
		[]string{"type"}, // prompt, completion
	)

	// Tool metrics
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigchat_tool_calls_total",
			Help: "Tool executions by tool and result",
		},
		[]string{"tool", "result"}, // result: success, failure
	)

	// Title metrics
	TitlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigchat_titles_total",
			Help: "Title generations by result",
		},
		[]string{"result"}, // generated, fallback
	)

	// Status server metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rigchat_http_requests_total",
			Help: "Status server requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rigchat_http_request_duration_seconds",
			Help:    "Status server request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
