// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus counters and histograms for the HTTP
// surface and the streaming relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream outcomes recorded by ObserveStream.
const (
	OutcomeOK              = "ok"
	OutcomeMalformed       = "malformed_request"
	OutcomeProviderFailure = "provider_failure"
	OutcomeConfigFailure   = "configuration_failure"
	OutcomeAborted         = "aborted"
	OutcomeClientGone      = "client_gone"
)

// Metrics records request and stream activity.
type Metrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	ObserveStream(task, provider, outcome string, durationSeconds float64)
	ObserveFirstFragment(task string, durationSeconds float64)
	AddFragments(task string, n int)
	IncRateLimited(route string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) ObserveStream(string, string, string, float64)  {}
func (Noop) ObserveFirstFragment(string, float64)           {}
func (Noop) AddFragments(string, int)                       {}
func (Noop) IncRateLimited(string)                          {}

// Prom implements Metrics backed by Prometheus collectors.
type Prom struct {
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	streams        *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	firstFragment  *prometheus.HistogramVec
	fragments      *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
}

// NewProm constructs the collectors and registers them with reg, or with the
// default registerer when reg is nil.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Streaming exchanges by task, provider and outcome",
		}, []string{"task", "provider", "outcome"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Wall time of streaming exchanges by task",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120},
		}, []string{"task"}),
		firstFragment: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_fragment_seconds",
			Help:      "Time from request to first relayed fragment by task",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"task"}),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Fragments relayed to clients by task",
		}, []string{"task"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter by route",
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(p.requests, p.latency, p.streams, p.streamDuration, p.firstFragment, p.fragments, p.rateLimited)
	return p
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) ObserveStream(task, provider, outcome string, durationSeconds float64) {
	p.streams.WithLabelValues(task, provider, outcome).Inc()
	p.streamDuration.WithLabelValues(task).Observe(durationSeconds)
}

func (p *Prom) ObserveFirstFragment(task string, durationSeconds float64) {
	p.firstFragment.WithLabelValues(task).Observe(durationSeconds)
}

func (p *Prom) AddFragments(task string, n int) {
	if n <= 0 {
		return
	}
	p.fragments.WithLabelValues(task).Add(float64(n))
}

func (p *Prom) IncRateLimited(route string) {
	p.rateLimited.WithLabelValues(route).Inc()
}

// Handler exposes metrics from g, or from the default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
