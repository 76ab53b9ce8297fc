// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry maps each AI task to the provider, model and sampling
// settings that serve it.
//
// The registry is built once from configuration at process start and is
// read-only afterwards, so handlers share it without locking. Construction
// fails when any task cannot be served; a misconfigured deployment never
// accepts a request.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/jeranaias/unilife360/internal/cloud"
	"github.com/jeranaias/unilife360/internal/config"
	"github.com/jeranaias/unilife360/internal/llm"
	"github.com/jeranaias/unilife360/internal/ollama"
)

// Task identifies a kind of AI work.
type Task string

// The fixed task set.
const (
	TaskOnboarding Task = config.TaskOnboarding
	TaskSummarizer Task = config.TaskSummarizer
	TaskTutor      Task = config.TaskTutor
)

var allTasks = []Task{TaskOnboarding, TaskSummarizer, TaskTutor}

// Tasks returns every task in display order.
func Tasks() []Task {
	return append([]Task(nil), allTasks...)
}

// Valid reports whether t belongs to the task set.
func (t Task) Valid() bool {
	for _, known := range allTasks {
		if t == known {
			return true
		}
	}
	return false
}

var (
	// ErrConfiguration is returned when the registry cannot be built.
	ErrConfiguration = errors.New("model registry misconfigured")

	// ErrUnknownTask is returned by Lookup for tasks outside the task set.
	ErrUnknownTask = errors.New("unknown task")

	// ErrPingUnsupported is returned by Ping for providers without a health check.
	ErrPingUnsupported = errors.New("provider has no health check")
)

// Binding is the configured provider and sampling settings of one task.
type Binding struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Handle is the resolved, immutable binding of a task to a provider.
type Handle struct {
	Task        Task
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   int

	client      llm.Provider
	fingerprint string
}

// Stream issues the task's streaming completion call. Each fragment is passed
// to onFragment in arrival order.
func (h *Handle) Stream(ctx context.Context, system string, messages []llm.Message, onFragment llm.FragmentFunc) error {
	req := llm.Request{
		Model:     h.Model,
		System:    system,
		Messages:  messages,
		MaxTokens: h.MaxTokens,
	}
	if h.Temperature != nil {
		req.Temperature = llm.Float(*h.Temperature)
	}
	return h.client.Stream(ctx, req, onFragment)
}

// Fingerprint identifies the credential without revealing it. It is "none"
// for providers that take no credential.
func (h *Handle) Fingerprint() string {
	return h.fingerprint
}

// TemperatureString formats the temperature for listings.
func (h *Handle) TemperatureString() string {
	return FormatTemperature(h.Temperature)
}

// FormatTemperature renders t with the fewest digits that round-trip, or
// "default" when unset.
func FormatTemperature(t *float64) string {
	if t == nil {
		return "default"
	}
	return strconv.FormatFloat(*t, 'g', -1, 64)
}

// Ping checks that the provider is reachable.
func (h *Handle) Ping(ctx context.Context) error {
	p, ok := h.client.(pinger)
	if !ok {
		return ErrPingUnsupported
	}
	return p.Ping(ctx)
}

// Provider reachability, as reported by Status.
const (
	StatusOK          = "ok"
	StatusConfigured  = "configured"
	StatusUnavailable = "unavailable"
)

// Status pings the provider and reports StatusOK when it answers,
// StatusConfigured when it has no health check and StatusUnavailable
// otherwise.
func (h *Handle) Status(ctx context.Context) string {
	switch err := h.Ping(ctx); {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrPingUnsupported):
		return StatusConfigured
	default:
		return StatusUnavailable
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// fingerprinter is implemented by providers that carry a credential.
type fingerprinter interface {
	KeyFingerprint() string
}

// Registry resolves tasks to handles.
type Registry struct {
	handles map[Task]*Handle
}

// New builds the registry from configuration. Every problem found is
// reported, joined under ErrConfiguration.
func New(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrConfiguration)
	}

	bindings := make(map[Task]Binding, len(cfg.Tasks))
	usesCloud := false
	for name, tc := range cfg.Tasks {
		bindings[Task(name)] = Binding{
			Provider:    tc.Provider,
			Model:       tc.Model,
			Temperature: tc.Temperature,
			MaxTokens:   tc.MaxTokens,
		}
		if tc.Provider == config.ProviderOpenRouter {
			usesCloud = true
		}
	}

	providers := map[string]llm.Provider{
		config.ProviderOllama: ollama.NewClientWithConfig(&ollama.ClientConfig{
			BaseURL: cfg.Local.OllamaURL,
		}),
	}

	var problems []error
	if strings.TrimSpace(cfg.Cloud.APIKey) != "" {
		providers[config.ProviderOpenRouter] = cloud.NewClient(cfg.Cloud.APIKey).
			WithName(config.ProviderOpenRouter).
			WithBaseURL(cfg.Cloud.BaseURL).
			WithSiteURL(cfg.Cloud.SiteURL).
			WithSiteName(cfg.Cloud.SiteName)
	} else if usesCloud {
		problems = append(problems, fmt.Errorf("%s credential missing: set UNILIFE_OPENROUTER_KEY or cloud.api_key", config.ProviderOpenRouter))
	}

	reg, err := NewWithProviders(bindings, providers)
	if err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, errors.Join(problems...))
	}
	return reg, nil
}

// NewWithProviders builds the registry from explicit bindings and provider
// clients keyed by provider name. Bindings that name a provider missing from
// providers are configuration errors.
func NewWithProviders(bindings map[Task]Binding, providers map[string]llm.Provider) (*Registry, error) {
	var problems []error

	for name := range bindings {
		if !name.Valid() {
			problems = append(problems, fmt.Errorf("task %q: not a known task", name))
		}
	}

	handles := make(map[Task]*Handle, len(allTasks))
	for _, task := range allTasks {
		b, ok := bindings[task]
		if !ok {
			problems = append(problems, fmt.Errorf("task %q: no binding configured", task))
			continue
		}
		if strings.TrimSpace(b.Model) == "" {
			problems = append(problems, fmt.Errorf("task %q: model must not be empty", task))
		}
		client, ok := providers[b.Provider]
		if !ok {
			switch b.Provider {
			case config.ProviderOpenRouter, config.ProviderOllama:
				problems = append(problems, fmt.Errorf("task %q: provider %q not configured", task, b.Provider))
			default:
				problems = append(problems, fmt.Errorf("task %q: unknown provider %q", task, b.Provider))
			}
			continue
		}

		h := &Handle{
			Task:        task,
			Provider:    b.Provider,
			Model:       b.Model,
			MaxTokens:   b.MaxTokens,
			client:      client,
			fingerprint: "none",
		}
		if b.Temperature != nil {
			h.Temperature = llm.Float(*b.Temperature)
		}
		if fp, ok := client.(fingerprinter); ok {
			h.fingerprint = fp.KeyFingerprint()
		}
		handles[task] = h
	}

	if len(problems) > 0 {
		return nil, errors.Join(problems...)
	}

	for _, task := range allTasks {
		h := handles[task]
		log.Printf("REGISTRY_READY | task=%s provider=%s model=%s temperature=%s credential=%s",
			task, h.Provider, h.Model, h.TemperatureString(), h.fingerprint)
	}
	return &Registry{handles: handles}, nil
}

// Lookup returns the handle serving task.
func (r *Registry) Lookup(task Task) (*Handle, error) {
	h, ok := r.handles[task]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	return h, nil
}

// Handles returns all handles in task order.
func (r *Registry) Handles() []*Handle {
	out := make([]*Handle, 0, len(allTasks))
	for _, task := range allTasks {
		out = append(out, r.handles[task])
	}
	return out
}
