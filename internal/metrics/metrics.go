// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics provides Prometheus metrics for the chat client and the
// backend server.
//
// Each Metrics value owns its registry so tests and multiple servers in one
// process never collide on registration. All recording methods are safe on
// a nil *Metrics, which is how components run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamchat"

// Metrics holds all Prometheus metrics for streamchat.
type Metrics struct {
	registry *prometheus.Registry

	// Client stream metrics
	StreamsStarted    prometheus.Counter
	StreamsFinished   *prometheus.CounterVec
	TokensApplied     prometheus.Counter
	ConsistencyFaults prometheus.Counter
	TimeToFirstToken  prometheus.Histogram

	// Server metrics
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	ActiveStreams  prometheus.Gauge
	UpstreamErrors prometheus.Counter
	ExportsStored  prometheus.Gauge
	ExportsPruned  prometheus.Counter
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		StreamsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_started_total",
			Help:      "Chat streams started by the client controller",
		}),
		StreamsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_finished_total",
			Help:      "Chat streams finished, by outcome",
		}, []string{"outcome"}),
		TokensApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_applied_total",
			Help:      "Token fragments applied to the conversation store",
		}),
		ConsistencyFaults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_faults_total",
			Help:      "Tokens dropped because the target message was not the open placeholder",
		}),
		TimeToFirstToken: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_first_token_seconds",
			Help:      "Delay between request start and the first applied token",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled by the backend server",
		}, []string{"route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Chat responses currently streaming from the server",
		}),
		UpstreamErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Errors returned by the upstream model API",
		}),
		ExportsStored: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exports_stored",
			Help:      "Exported conversations currently held",
		}),
		ExportsPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_pruned_total",
			Help:      "Exported conversations removed after their TTL",
		}),
	}
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// CLIENT RECORDING
// =============================================================================

// StreamStarted counts a new flight.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.StreamsStarted.Inc()
}

// StreamFinished counts a terminated flight by outcome.
func (m *Metrics) StreamFinished(outcome string) {
	if m == nil {
		return
	}
	m.StreamsFinished.WithLabelValues(outcome).Inc()
}

// TokenApplied counts one applied token. first marks the first token of a
// flight, whose latency since start is observed.
func (m *Metrics) TokenApplied(first bool, sinceStart time.Duration) {
	if m == nil {
		return
	}
	m.TokensApplied.Inc()
	if first {
		m.TimeToFirstToken.Observe(sinceStart.Seconds())
	}
}

// ConsistencyFault counts a dropped token.
func (m *Metrics) ConsistencyFault() {
	if m == nil {
		return
	}
	m.ConsistencyFaults.Inc()
}

// =============================================================================
// SERVER RECORDING
// =============================================================================

// RecordRequest records one finished HTTP request.
func (m *Metrics) RecordRequest(route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// StreamOpened and StreamClosed track in-progress server streams.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// UpstreamError counts a failed upstream call.
func (m *Metrics) UpstreamError() {
	if m == nil {
		return
	}
	m.UpstreamErrors.Inc()
}

// SetExports reports the number of stored exports.
func (m *Metrics) SetExports(n int) {
	if m == nil {
		return
	}
	m.ExportsStored.Set(float64(n))
}

// ExportsRemoved counts pruned exports.
func (m *Metrics) ExportsRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExportsPruned.Add(float64(n))
}
