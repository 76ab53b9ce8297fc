// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.ObserveRequest("POST", "/api/onboarding", "200", 0.1)
	m.ObserveStream("onboarding", "openrouter", OutcomeOK, 1)
	m.ObserveFirstFragment("onboarding", 0.2)
	m.AddFragments("onboarding", 3)
	m.IncRateLimited("/api/onboarding")
}

func TestPromMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("unilife", reg)
	m.ObserveRequest("POST", "/api/summarize", "200", 0.4)
	m.ObserveStream("summarizer", "ollama", OutcomeOK, 3.2)
	m.ObserveFirstFragment("summarizer", 0.3)
	m.AddFragments("summarizer", 12)
	m.AddFragments("summarizer", 0)
	m.IncRateLimited("/api/summarize")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	checks := []struct {
		name   string
		labels map[string]string
	}{
		{"unilife_http_requests_total", map[string]string{"method": "POST", "route": "/api/summarize", "status": "200"}},
		{"unilife_http_request_duration_seconds", map[string]string{"method": "POST", "route": "/api/summarize"}},
		{"unilife_streams_total", map[string]string{"task": "summarizer", "provider": "ollama", "outcome": "ok"}},
		{"unilife_stream_duration_seconds", map[string]string{"task": "summarizer"}},
		{"unilife_first_fragment_seconds", map[string]string{"task": "summarizer"}},
		{"unilife_fragments_total", map[string]string{"task": "summarizer"}},
		{"unilife_rate_limited_total", map[string]string{"route": "/api/summarize"}},
	}
	for _, c := range checks {
		if !hasMetric(families, c.name, c.labels) {
			t.Errorf("expected %s%v", c.name, c.labels)
		}
	}

	if got := counterValue(families, "unilife_fragments_total"); got != 12 {
		t.Errorf("fragments_total = %v, want 12", got)
	}
}

func TestNewProm_DefaultRegisterer(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewProm("unilife", nil)
	m.IncRateLimited("/api/tutor")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "unilife_rate_limited_total", map[string]string{"route": "/api/tutor"}) {
		t.Fatalf("expected rate_limited metric on the default registry")
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProm("unilife", reg)
	m.ObserveStream("tutor", "openrouter", OutcomeAborted, 2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `unilife_streams_total{outcome="aborted",provider="openrouter",task="tutor"} 1`) {
		t.Fatalf("metrics output missing stream counter:\n%s", rec.Body.String())
	}
}

func TestHandler_Default(t *testing.T) {
	withTestRegistry(t)
	NewProm("unilife", nil).AddFragments("onboarding", 1)

	rec := httptest.NewRecorder()
	Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected metrics output")
	}
}

func hasMetric(families []*dto.MetricFamily, name string, labels map[string]string) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return true
			}
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, labels map[string]string) bool {
	if len(labels) == 0 {
		return true
	}
	found := 0
	for _, pair := range pairs {
		if val, ok := labels[pair.GetName()]; ok && pair.GetValue() == val {
			found++
		}
	}
	return found == len(labels)
}

func counterValue(families []*dto.MetricFamily, name string) float64 {
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
