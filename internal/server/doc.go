// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API that streams AI responses to the
// UniLife 360 clients.
//
// Endpoints:
//   - POST /api/onboarding - onboarding conversation turn
//   - POST /api/summarize  - course notes summary
//   - POST /api/tutor      - study tutor turn
//   - GET  /v1/models      - task to model bindings
//   - GET  /health         - health check
//   - GET  /metrics        - Prometheus metrics (when enabled)
//
// Each POST handler parses the body, builds the task's system prompt, and
// issues exactly one streaming provider call. Fragments are written and
// flushed as plain text the moment they arrive. Headers are committed with
// the first fragment, so failures before it are reported as JSON errors:
//
//	{"error": {"message": "...", "type": "provider_failure", "code": 502}}
//
// A failure after the first fragment aborts the connection, so clients see a
// truncated transfer rather than a clean end of stream.
//
// The middleware chain adds panic recovery, security headers, request IDs
// with access logging, metrics, per-client rate limiting, CORS, and optional
// bearer token authentication.
package server
