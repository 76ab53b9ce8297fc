// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for unilife.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - --config PATH
//   - $UNILIFE_CONFIG
//   - ~/.unilife/config.toml
//   - ~/.unilife/config.json
//   - Built-in defaults
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"

	"github.com/jeranaias/unilife360/internal/util"
)

// Provider names accepted in task bindings.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

// Task names bound by default. The registry requires every one of them.
const (
	TaskOnboarding = "onboarding"
	TaskSummarizer = "summarizer"
	TaskTutor      = "tutor"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete unilife configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server  ServerConfig          `toml:"server" json:"server"`
	Cloud   CloudConfig           `toml:"cloud" json:"cloud"`
	Local   LocalConfig           `toml:"local" json:"local"`
	Prompts PromptsConfig         `toml:"prompts" json:"prompts"`
	Tasks   map[string]TaskConfig `toml:"tasks" json:"tasks"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `toml:"addr" json:"addr"`

	// RequestTimeoutSecs bounds every streaming request, provider call included.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`

	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64 `toml:"max_body_bytes" json:"max_body_bytes"`

	// AuthToken enables bearer authentication when non-empty.
	AuthToken string `toml:"auth_token" json:"auth_token"`

	// AllowedIPs restricts clients to these IPs or CIDRs. Empty allows all.
	AllowedIPs []string `toml:"allowed_ips" json:"allowed_ips"`

	// AllowedOrigins lists CORS origins. Empty disables CORS headers.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`

	// RateLimitRPS is the per-client request rate. 0 disables limiting.
	RateLimitRPS   float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst" json:"rate_limit_burst"`

	// MetricsEnabled exposes GET /metrics.
	MetricsEnabled bool `toml:"metrics_enabled" json:"metrics_enabled"`
}

// CloudConfig contains hosted provider settings.
type CloudConfig struct {
	BaseURL  string `toml:"base_url" json:"base_url"`
	APIKey   string `toml:"api_key" json:"api_key"`
	SiteURL  string `toml:"site_url" json:"site_url"`
	SiteName string `toml:"site_name" json:"site_name"`
}

// LocalConfig contains Ollama settings.
type LocalConfig struct {
	OllamaURL string `toml:"ollama_url" json:"ollama_url"`
}

// PromptsConfig contains prompt rendering settings.
type PromptsConfig struct {
	// Language is a BCP 47 tag for generated prose (e.g. "en", "fr").
	Language string `toml:"language" json:"language"`
}

// TaskConfig binds one task to a provider and model.
type TaskConfig struct {
	Provider    string   `toml:"provider" json:"provider"`
	Model       string   `toml:"model" json:"model"`
	Temperature *float64 `toml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int      `toml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

func float(v float64) *float64 { return &v }

// DefaultTasks returns the built-in task bindings. Onboarding is
// conversational and samples at 0.8; the summarizer leaves temperature to the
// provider default.
func DefaultTasks() map[string]TaskConfig {
	return map[string]TaskConfig{
		TaskOnboarding: {Provider: ProviderOpenRouter, Model: "openai/gpt-4o-mini", Temperature: float(0.8)},
		TaskSummarizer: {Provider: ProviderOpenRouter, Model: "openai/gpt-4o-mini"},
		TaskTutor:      {Provider: ProviderOpenRouter, Model: "openai/gpt-4o-mini", Temperature: float(0.7)},
	}
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Addr:               "127.0.0.1:8790",
			RequestTimeoutSecs: 120,
			MaxBodyBytes:       1 << 20,
			RateLimitRPS:       5,
			RateLimitBurst:     10,
			MetricsEnabled:     true,
		},
		Cloud: CloudConfig{
			BaseURL:  "https://openrouter.ai/api/v1",
			SiteURL:  "https://unilife360.app",
			SiteName: "UniLife 360",
		},
		Local: LocalConfig{
			OllamaURL: "http://127.0.0.1:11434",
		},
		Prompts: PromptsConfig{
			Language: "en",
		},
		Tasks: DefaultTasks(),
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the unilife configuration directory (~/.unilife).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".unilife"), nil
}

// ConfigPathTOML returns the default TOML config path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the default JSON config path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ResolvePath returns the file Load would read for an explicit path, or ""
// when only built-in defaults apply.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("UNILIFE_CONFIG"); env != "" {
		return env
	}
	for _, candidate := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		if p, err := candidate(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				return p
			}
		}
	}
	return ""
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the configuration once at startup.
//
// An explicit path (or $UNILIFE_CONFIG) must exist. Without one, the default
// locations are tried and built-in defaults are used when neither exists.
// Environment overrides are applied last, then defaults and validation.
func Load(explicit string) (*Config, error) {
	path := ResolvePath(explicit)
	if path == "" {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg. Keys absent from the file keep
// their current values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# unilife configuration file\n")
	buf.WriteString("# Credentials are better supplied through UNILIFE_OPENROUTER_KEY.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns ValidateErrors.
// Missing credentials are not checked here; the model registry reports them.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// Server
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		errs = append(errs, ValidationError{Field: "server.addr", Message: fmt.Sprintf("must be host:port, got %q", c.Server.Addr)})
	}
	if c.Server.RequestTimeoutSecs < 1 || c.Server.RequestTimeoutSecs > 3600 {
		errs = append(errs, ValidationError{Field: "server.request_timeout_secs", Message: fmt.Sprintf("must be 1-3600, got %d", c.Server.RequestTimeoutSecs)})
	}
	if c.Server.MaxBodyBytes < 1024 || c.Server.MaxBodyBytes > 64<<20 {
		errs = append(errs, ValidationError{Field: "server.max_body_bytes", Message: fmt.Sprintf("must be 1024-%d, got %d", 64<<20, c.Server.MaxBodyBytes)})
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_rps", Message: "must be non-negative"})
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		errs = append(errs, ValidationError{Field: "server.rate_limit_burst", Message: "must be at least 1 when rate limiting is enabled"})
	}
	for _, ip := range c.Server.AllowedIPs {
		if net.ParseIP(ip) == nil {
			if _, _, err := net.ParseCIDR(ip); err != nil {
				errs = append(errs, ValidationError{Field: "server.allowed_ips", Message: fmt.Sprintf("invalid IP or CIDR %q", ip)})
			}
		}
	}

	// Endpoints
	if err := validateURL(c.Cloud.BaseURL); err != nil {
		errs = append(errs, ValidationError{Field: "cloud.base_url", Message: err.Error()})
	}
	if err := validateURL(c.Local.OllamaURL); err != nil {
		errs = append(errs, ValidationError{Field: "local.ollama_url", Message: err.Error()})
	}

	// Prompts
	if _, err := language.Parse(c.Prompts.Language); err != nil {
		errs = append(errs, ValidationError{Field: "prompts.language", Message: fmt.Sprintf("invalid BCP 47 tag %q", c.Prompts.Language)})
	}

	// Tasks
	for _, name := range c.TaskNames() {
		t := c.Tasks[name]
		field := "tasks." + name
		switch t.Provider {
		case ProviderOpenRouter, ProviderOllama:
		default:
			errs = append(errs, ValidationError{Field: field + ".provider", Message: fmt.Sprintf("must be %s or %s, got %q", ProviderOpenRouter, ProviderOllama, t.Provider)})
		}
		if strings.TrimSpace(t.Model) == "" {
			errs = append(errs, ValidationError{Field: field + ".model", Message: "must not be empty"})
		}
		if t.Temperature != nil && (*t.Temperature < 0 || *t.Temperature > 2) {
			errs = append(errs, ValidationError{Field: field + ".temperature", Message: fmt.Sprintf("must be between 0.0 and 2.0, got %g", *t.Temperature)})
		}
		if t.MaxTokens < 0 {
			errs = append(errs, ValidationError{Field: field + ".max_tokens", Message: "must be non-negative"})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL must include a host")
	}
	return nil
}

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.RequestTimeoutSecs == 0 {
		c.Server.RequestTimeoutSecs = defaults.Server.RequestTimeoutSecs
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}
	if c.Cloud.BaseURL == "" {
		c.Cloud.BaseURL = defaults.Cloud.BaseURL
	}
	if c.Local.OllamaURL == "" {
		c.Local.OllamaURL = defaults.Local.OllamaURL
	}
	if c.Prompts.Language == "" {
		c.Prompts.Language = defaults.Prompts.Language
	}

	if c.Tasks == nil {
		c.Tasks = map[string]TaskConfig{}
	}
	for name, def := range defaults.Tasks {
		t, ok := c.Tasks[name]
		if !ok {
			c.Tasks[name] = def
			continue
		}
		if t.Provider == "" {
			t.Provider = def.Provider
		}
		if t.Model == "" && t.Provider == def.Provider {
			t.Model = def.Model
		}
		if t.Temperature == nil && def.Temperature != nil {
			t.Temperature = float(*def.Temperature)
		}
		c.Tasks[name] = t
	}
}

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - UNILIFE_ADDR: overrides server.addr
//   - UNILIFE_AUTH_TOKEN: overrides server.auth_token
//   - UNILIFE_OPENROUTER_KEY (or OPENROUTER_API_KEY): overrides cloud.api_key
//   - UNILIFE_CLOUD_URL: overrides cloud.base_url
//   - UNILIFE_OLLAMA_URL: overrides local.ollama_url
//   - UNILIFE_LANGUAGE: overrides prompts.language
//   - UNILIFE_<TASK>_PROVIDER / UNILIFE_<TASK>_MODEL: override one task binding
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("UNILIFE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("UNILIFE_AUTH_TOKEN"); v != "" {
		c.Server.AuthToken = v
	}

	if v := os.Getenv("UNILIFE_OPENROUTER_KEY"); v != "" {
		c.Cloud.APIKey = v
	} else if v := os.Getenv("OPENROUTER_API_KEY"); v != "" && c.Cloud.APIKey == "" {
		c.Cloud.APIKey = v
	}
	if v := os.Getenv("UNILIFE_CLOUD_URL"); v != "" {
		c.Cloud.BaseURL = v
	}

	if v := os.Getenv("UNILIFE_OLLAMA_URL"); v != "" {
		c.Local.OllamaURL = v
	}
	if v := os.Getenv("UNILIFE_LANGUAGE"); v != "" {
		c.Prompts.Language = v
	}

	if c.Tasks == nil {
		c.Tasks = DefaultTasks()
	}
	for name, t := range c.Tasks {
		prefix := "UNILIFE_" + strings.ToUpper(name) + "_"
		if v := os.Getenv(prefix + "PROVIDER"); v != "" {
			t.Provider = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			t.Model = v
		}
		c.Tasks[name] = t
	}
}

// TaskNames returns the configured task names, sorted.
func (c *Config) TaskNames() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Redacted returns a copy safe to print: secrets are replaced by a marker.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Server.AllowedIPs = append([]string(nil), c.Server.AllowedIPs...)
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	cp.Tasks = make(map[string]TaskConfig, len(c.Tasks))
	for k, v := range c.Tasks {
		cp.Tasks[k] = v
	}
	if cp.Cloud.APIKey != "" {
		cp.Cloud.APIKey = "[REDACTED]"
	}
	if cp.Server.AuthToken != "" {
		cp.Server.AuthToken = "[REDACTED]"
	}
	return &cp
}

// String returns the redacted configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("config encode error: %v", err)
	}
	return buf.String()
}
