// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jeranaias/unilife360/internal/cloud"
	"github.com/jeranaias/unilife360/internal/ollama"
)

// Error types reported in the "type" field of error responses.
const (
	errTypeMalformed     = "malformed_request"
	errTypeProvider      = "provider_failure"
	errTypeConfiguration = "configuration_failure"
	errTypeUnauthorized  = "unauthorized"
	errTypeRateLimited   = "rate_limited"
	errTypeInternal      = "internal_error"
)

// ErrorBody is the JSON error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failed request.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{
		Message: message,
		Type:    errType,
		Code:    status,
	}})
}

// requestError is a client-side problem found before any provider call.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func malformed(message string) *requestError {
	return &requestError{status: http.StatusBadRequest, message: message}
}

// providerFailure maps a provider error to a response status and a message
// naming the upstream class. Provider text stays in the logs.
func providerFailure(ctx context.Context, err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The AI provider did not respond in time"
	case errors.Is(err, cloud.ErrAuthFailed), errors.Is(err, cloud.ErrNotConfigured):
		return http.StatusBadGateway, "The AI provider rejected the service credentials"
	case errors.Is(err, cloud.ErrInsufficientCredits):
		return http.StatusBadGateway, "The AI provider account is out of credits"
	case errors.Is(err, cloud.ErrRateLimited):
		return http.StatusBadGateway, "The AI provider is rate limiting requests"
	case errors.Is(err, cloud.ErrModelNotFound), ollama.IsModelNotFound(err):
		return http.StatusBadGateway, "The configured model is not available"
	case ollama.IsNotRunning(err):
		return http.StatusBadGateway, "The local model server is unavailable"
	default:
		return http.StatusBadGateway, "The AI provider failed to complete the request"
	}
}
