// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"github.com/jeranaias/unilife360/internal/llm"
)

// payload is a request body decoded one level deep. Each field is decoded on
// demand so optional fields of the wrong type can fall back to defaults
// without failing the whole request.
type payload map[string]json.RawMessage

// decodePayload reads the body (bounded by limit) and requires a JSON object.
func decodePayload(w http.ResponseWriter, r *http.Request, limit int64) (payload, *requestError) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &requestError{
				status:  http.StatusRequestEntityTooLarge,
				message: fmt.Sprintf("Request body exceeds maximum size of %d bytes", limit),
			}
		}
		return nil, malformed("Could not read request body")
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, malformed("Request body must be a JSON object")
	}

	var p payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, malformed("Request body is not valid JSON")
	}
	return p, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

// messages decodes the conversation history. A missing, null or non-array
// value is an error when required and an empty history otherwise.
func (p payload) messages(required bool) ([]llm.Message, *requestError) {
	raw, ok := p["messages"]
	if !ok || isNull(raw) {
		if required {
			return nil, malformed("Request must include a messages array")
		}
		return []llm.Message{}, nil
	}

	var msgs []llm.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil, malformed("messages must be an array of {role, content} objects with string fields")
	}
	if err := llm.ValidateMessages(msgs); err != nil {
		return nil, malformed(err.Error())
	}
	if msgs == nil {
		msgs = []llm.Message{}
	}
	return msgs, nil
}

// requiredString decodes a mandatory string field.
func (p payload) requiredString(key string) (string, *requestError) {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return "", malformed(fmt.Sprintf("Request must include %s", key))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", malformed(fmt.Sprintf("%s must be a string", key))
	}
	return s, nil
}

// optionalString returns the field, or "" when absent or not a string.
func (p payload) optionalString(key string) string {
	var s string
	if raw, ok := p[key]; ok {
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
	}
	return s
}

// optionalInt returns an integral number field, or def when absent, not a
// number, fractional or out of range.
func (p payload) optionalInt(key string, def int) int {
	raw, ok := p[key]
	if !ok || isNull(raw) {
		return def
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return def
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return def
	}
	return int(f)
}

// optionalObject returns the field as a map, or an empty map when absent or
// not an object.
func (p payload) optionalObject(key string) map[string]any {
	out := map[string]any{}
	if raw, ok := p[key]; ok {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil && m != nil {
			out = m
		}
	}
	return out
}
