// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the hosted model provider: any OpenAI-compatible
// chat completions API, OpenRouter by default.
//
// CLOUD: Secure logging, no retries on the streaming path.
package cloud

import (
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

// Configuration constants for the hosted API.
const (
	// DefaultBaseURL is the OpenRouter API base URL.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultName identifies the provider in logs and model listings.
	DefaultName = "openrouter"

	// MaxErrorBodySize bounds how much of an error response is read.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxErrorBodySize = 64 * 1024

	userAgent = "unilife360/1.0"
)

// sharedStreamingClient is used for streaming requests (no timeout, context-controlled).
// PERFORMANCE: Connection pooling across requests.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Error types for the hosted API.
var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("cloud API key not configured")

	// ErrAuthFailed is returned when the API key is rejected.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited is returned when the provider throttles the key.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound is returned when the model identifier is unknown upstream.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits is returned when the account cannot pay for the call.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIError is an error reported by the hosted API, either as an HTTP status
// or as an error object inside the event stream.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorBody is the error object shape of OpenAI-compatible APIs. Code is a
// string on OpenAI and a number on OpenRouter.
type apiErrorBody struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

func (b *apiErrorBody) code() string {
	return strings.Trim(string(b.Code), `"`)
}

type apiErrorResponse struct {
	Error apiErrorBody `json:"error"`
}

// Client streams chat completions from an OpenAI-compatible API.
// It is safe for concurrent use; all fields are fixed after construction.
type Client struct {
	name       string
	apiKey     string
	baseURL    string
	siteURL    string
	siteName   string
	httpClient *http.Client
}

// NewClient creates a client for the given API key.
//
// If the key is empty the client is still created but Stream fails with
// ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		name:       DefaultName,
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    DefaultBaseURL,
		siteURL:    "https://unilife360.app",
		siteName:   "UniLife 360",
		httpClient: sharedStreamingClient,
	}
}

// WithName sets the provider name reported by Name.
func (c *Client) WithName(name string) *Client {
	if name != "" {
		c.name = name
	}
	return c
}

// WithBaseURL sets a custom base URL (for OpenAI, a proxy, or testing).
func (c *Client) WithBaseURL(url string) *Client {
	if url != "" {
		c.baseURL = strings.TrimRight(url, "/")
	}
	return c
}

// WithSiteURL sets the HTTP-Referer header for attribution.
func (c *Client) WithSiteURL(url string) *Client {
	c.siteURL = url
	return c
}

// WithSiteName sets the X-Title header for attribution.
func (c *Client) WithSiteName(name string) *Client {
	c.siteName = name
	return c
}

// WithHTTPClient replaces the transport. The client must not set a Timeout;
// streaming deadlines come from the request context.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// Name implements llm.Provider.
func (c *Client) Name() string {
	return c.name
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// IsConfigured returns true if an API key is set.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns the first 8 hex characters of the key's SHA-256,
// or "none". SECURITY: never exposes key material.
func (c *Client) KeyFingerprint() string {
	return Fingerprint(c.apiKey)
}

// Fingerprint hashes a credential for logs and listings.
func Fingerprint(secret string) string {
	if secret == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:4])
}

// setHeaders sets the auth, content and attribution headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

// logResponse logs status and latency only.
// CLOUD: Secure logging, never headers or bodies.
func (c *Client) logResponse(model string, status int, duration time.Duration) {
	log.Printf("PROVIDER_RESPONSE | provider=%s model=%s status=%d latency=%v key=%s",
		c.name, model, status, duration.Round(time.Millisecond), c.KeyFingerprint())
}

// handleErrorResponse converts HTTP error responses to errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg := apiErr.Error.Message
		switch statusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %s", ErrInsufficientCredits, msg)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, msg)
		default:
			return &APIError{Code: apiErr.Error.code(), Message: msg, Status: statusCode}
		}
	}

	// Fallback for unparseable error responses
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case http.StatusNotFound:
		return ErrModelNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &APIError{Message: strings.TrimSpace(string(body)), Status: statusCode}
	}
}
