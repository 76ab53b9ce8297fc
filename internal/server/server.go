// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/unilife360/internal/config"
	"github.com/jeranaias/unilife360/internal/llm"
	"github.com/jeranaias/unilife360/internal/metrics"
	"github.com/jeranaias/unilife360/internal/prompts"
	"github.com/jeranaias/unilife360/internal/registry"
)

// Version is the server version.
var Version = "0.3.0"

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server for the AI streaming endpoints.
type Server struct {
	cfg            config.ServerConfig
	requestTimeout time.Duration
	maxBody        int64

	registry *registry.Registry
	prompts  *prompts.Builder
	metrics  metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *RateLimiter
	auth     *AuthConfig
	cors     *CORSConfig

	router    *http.ServeMux
	startTime time.Time

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a Server from configuration and a built registry.
func New(cfg *config.Config, reg *registry.Registry) (*Server, error) {
	if reg == nil {
		return nil, errors.New("server: nil registry")
	}
	builder, err := prompts.NewBuilder(cfg.Prompts.Language)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:            cfg.Server,
		requestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		maxBody:        cfg.Server.MaxBodyBytes,
		registry:       reg,
		prompts:        builder,
		metrics:        metrics.Noop{},
		router:         http.NewServeMux(),
		startTime:      time.Now(),
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 120 * time.Second
	}
	if s.maxBody <= 0 {
		s.maxBody = 1 << 20
	}

	auth := DefaultAuthConfig()
	auth.BearerToken = cfg.Server.AuthToken
	auth.AllowedIPs = cfg.Server.AllowedIPs
	auth.Enabled = cfg.Server.AuthToken != "" || len(cfg.Server.AllowedIPs) > 0
	s.auth = auth

	if len(cfg.Server.AllowedOrigins) > 0 {
		s.cors = NewCORSConfig(cfg.Server.AllowedOrigins)
	}
	if cfg.Server.RateLimitRPS > 0 {
		s.limiter = NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}

	s.setupRoutes()
	return s, nil
}

// WithMetrics sets the metrics sink and the gatherer served on /metrics.
func (s *Server) WithMetrics(m metrics.Metrics, g prometheus.Gatherer) *Server {
	s.metrics = m
	s.gatherer = g
	return s
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/onboarding", s.handleOnboarding)
	s.router.HandleFunc("POST /api/summarize", s.handleSummarize)
	s.router.HandleFunc("POST /api/tutor", s.handleTutor)

	s.router.HandleFunc("GET /v1/models", s.handleModels)
	s.router.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.MetricsEnabled {
		s.router.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler(s.gatherer).ServeHTTP(w, r)
		})
	}
}

// Handler returns the router wrapped in the middleware chain, outermost
// first: recovery, security headers, request logging, metrics, CORS, rate
// limiting, authentication. Preflights never reach the limiter.
func (s *Server) Handler() http.Handler {
	mws := []func(http.Handler) http.Handler{
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		MetricsMiddleware(s.metrics),
	}
	if s.cors != nil {
		mws = append(mws, CORSMiddleware(s.cors))
	}
	if s.limiter != nil {
		mws = append(mws, RateLimitMiddleware(s.limiter, s.metrics))
	}
	if s.auth.Enabled {
		mws = append(mws, AuthMiddleware(s.auth))
	}
	return Chain(mws...)(s.router)
}

// ============================================================================
// STREAMING HANDLERS
// ============================================================================

// reject answers a request that failed validation. No provider is called.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, task registry.Task, rerr *requestError) {
	log.Printf("MALFORMED_REQUEST | id=%s task=%s status=%d reason=%q",
		RequestIDFromContext(r.Context()), task, rerr.status, rerr.message)
	s.metrics.ObserveStream(string(task), "none", metrics.OutcomeMalformed, 0)
	writeError(w, rerr.status, errTypeMalformed, rerr.message)
}

// handleOnboarding handles POST /api/onboarding.
//
// Body: {"messages": [...], "step": 1, "collectedData": {...}}. A missing or
// non-integer step means step 1; missing or non-object collectedData means
// nothing is known yet.
func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	p, rerr := decodePayload(w, r, s.maxBody)
	if rerr != nil {
		s.reject(w, r, registry.TaskOnboarding, rerr)
		return
	}
	msgs, rerr := p.messages(true)
	if rerr != nil {
		s.reject(w, r, registry.TaskOnboarding, rerr)
		return
	}

	step := p.optionalInt("step", 1)
	facts := p.optionalObject("collectedData")
	system := s.prompts.Onboarding(step, facts)

	s.stream(w, r, registry.TaskOnboarding, system, msgs)
}

// handleSummarize handles POST /api/summarize.
//
// Body: {"courseName": "...", "notesContent": "...", "messages": [...]}.
// Without messages a single user turn asks for the summary.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	p, rerr := decodePayload(w, r, s.maxBody)
	if rerr != nil {
		s.reject(w, r, registry.TaskSummarizer, rerr)
		return
	}
	notes, rerr := p.requiredString("notesContent")
	if rerr != nil {
		s.reject(w, r, registry.TaskSummarizer, rerr)
		return
	}
	msgs, rerr := p.messages(false)
	if rerr != nil {
		s.reject(w, r, registry.TaskSummarizer, rerr)
		return
	}

	course := p.optionalString("courseName")
	if len(msgs) == 0 {
		msgs = []llm.Message{{Role: llm.RoleUser, Content: prompts.SummaryRequest(course)}}
	}
	system := s.prompts.Summarizer(course, notes)

	s.stream(w, r, registry.TaskSummarizer, system, msgs)
}

// handleTutor handles POST /api/tutor.
func (s *Server) handleTutor(w http.ResponseWriter, r *http.Request) {
	p, rerr := decodePayload(w, r, s.maxBody)
	if rerr != nil {
		s.reject(w, r, registry.TaskTutor, rerr)
		return
	}
	msgs, rerr := p.messages(true)
	if rerr != nil {
		s.reject(w, r, registry.TaskTutor, rerr)
		return
	}

	system := s.prompts.Tutor(p.optionalString("courseName"))
	s.stream(w, r, registry.TaskTutor, system, msgs)
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// ModelInfo describes the binding of one task.
type ModelInfo struct {
	ID          string   `json:"id"`
	Object      string   `json:"object"`
	Task        string   `json:"task"`
	OwnedBy     string   `json:"owned_by"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Credential  string   `json:"credential_fingerprint"`
}

// ModelsResponse is the response for GET /v1/models.
type ModelsResponse struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// handleModels handles GET /v1/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	handles := s.registry.Handles()
	data := make([]ModelInfo, 0, len(handles))
	for _, h := range handles {
		data = append(data, ModelInfo{
			ID:          h.Model,
			Object:      "model",
			Task:        string(h.Task),
			OwnedBy:     h.Provider,
			Temperature: h.Temperature,
			MaxTokens:   h.MaxTokens,
			Credential:  h.Fingerprint(),
		})
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Object: "list", Data: data})
}

// ============================================================================
// HEALTH HANDLER
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Tasks         int               `json:"tasks"`
	Providers     map[string]string `json:"providers"`
}

// handleHealth handles GET /health. Providers with a health check are pinged; an
// unreachable one marks the service degraded but still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Providers:     map[string]string{},
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, h := range s.registry.Handles() {
		health.Tasks++
		if _, seen := health.Providers[h.Provider]; seen {
			continue
		}
		status := h.Status(ctx)
		health.Providers[h.Provider] = status
		if status == registry.StatusUnavailable {
			health.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.requestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Start listens on the configured address and serves until Shutdown.
// Returns http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener. It returns http.ErrServerClosed at
// once, closing ln, when Shutdown has already been called.
func (s *Server) Serve(ln net.Listener) error {
	srv := s.httpServer()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return http.ErrServerClosed
	}
	s.server = srv
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s timeout=%s auth=%t rate_limit=%s metrics=%t",
		ln.Addr(), Version, s.requestTimeout, s.auth.Enabled, describeLimit(s.limiter), s.cfg.MetricsEnabled)
	return srv.Serve(ln)
}

// Shutdown gracefully shuts down the server, letting in-flight streams finish
// until ctx expires.
// A Serve call that has not started yet returns without serving.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return srv.Shutdown(ctx)
}
