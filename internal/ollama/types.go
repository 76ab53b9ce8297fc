// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"time"

	"github.com/jeranaias/unilife360/internal/llm"
)

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *Options      `json:"options,omitempty"`
}

// Options contains model parameters for inference.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"` // nil keeps the model default
	NumPredict  int      `json:"num_predict,omitempty"` // Max tokens to generate
}

// StreamChunk represents a single line of a streaming response.
type StreamChunk struct {
	Content    string
	Done       bool
	DoneReason string
	Model      string

	// Only populated on the final chunk; reported as llm.Usage.
	TotalDuration    time.Duration
	PromptTokens     int
	CompletionTokens int
}

// OllamaError represents an error from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}
