// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/unilife360/internal/llm"
)

func sseChunk(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "gen-1",
		"model":   "test-model",
		"choices": []any{map[string]any{"delta": map[string]any{"content": content}}},
	})
	return "data: " + string(b) + "\n\n"
}

func collect(t *testing.T, c *Client, req llm.Request) ([]string, error) {
	t.Helper()
	var got []string
	err := c.Stream(context.Background(), req, func(f string) error {
		got = append(got, f)
		return nil
	})
	return got, err
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStream_RelaysFragmentsInOrder(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NotEmpty(t, r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": OPENROUTER PROCESSING\n\n")
		for _, part := range []string{"Hel", "lo", ", ", "Ana"} {
			fmt.Fprint(w, sseChunk(part))
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient("sk-test").WithBaseURL(server.URL)
	got, err := collect(t, client, llm.Request{
		Model:       "openai/gpt-4o-mini",
		System:      "be kind",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: llm.Float(0.8),
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", ", ", "Ana"}, got)

	assert.Equal(t, "openai/gpt-4o-mini", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, 0.8, body["temperature"])
	msgs := body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "be kind", msgs[0].(map[string]any)["content"])
}

func TestStream_TemperatureOmittedWhenUnset(t *testing.T) {
	var raw map[string]json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	_, err := collect(t, NewClient("k").WithBaseURL(server.URL), llm.Request{Model: "m"})
	require.NoError(t, err)

	_, hasTemp := raw["temperature"]
	assert.False(t, hasTemp, "temperature must be omitted so the provider default applies")
	_, hasMax := raw["max_tokens"]
	assert.False(t, hasMax)
}

func TestStream_StopsAtFinishReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("done"))
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":""},"finish_reason":"stop"}]}`+"\n\n")
		fmt.Fprint(w, sseChunk("after finish"))
	}))
	defer server.Close()

	got, err := collect(t, NewClient("k").WithBaseURL(server.URL), llm.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, got)
}

func TestStream_SkipsMalformedChunks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("a"))
		fmt.Fprint(w, "data: {not json\n\n")
		fmt.Fprint(w, sseChunk("b"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	got, err := collect(t, NewClient("k").WithBaseURL(server.URL), llm.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestStream_InStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("partial"))
		fmt.Fprint(w, `data: {"error":{"code":502,"message":"upstream overloaded"}}`+"\n\n")
	}))
	defer server.Close()

	got, err := collect(t, NewClient("k").WithBaseURL(server.URL), llm.Request{Model: "m"})
	assert.Equal(t, []string{"partial"}, got)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "502", apiErr.Code)
	assert.Equal(t, "upstream overloaded", apiErr.Message)
}

func TestStream_ErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"No auth credentials found","code":401}}`, ErrAuthFailed},
		{"unauthorized plain", http.StatusUnauthorized, `nope`, ErrAuthFailed},
		{"payment", http.StatusPaymentRequired, `{"error":{"message":"Insufficient credits"}}`, ErrInsufficientCredits},
		{"not found", http.StatusNotFound, `{"error":{"message":"model xyz not found"}}`, ErrModelNotFound},
		{"rate limited", http.StatusTooManyRequests, ``, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := collect(t, NewClient("k").WithBaseURL(server.URL), llm.Request{Model: "m"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestStream_ServerErrorIsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error":{"message":"provider down","code":"bad_gateway"}}`)
	}))
	defer server.Close()

	_, err := collect(t, NewClient("k").WithBaseURL(server.URL), llm.Request{Model: "m"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "bad_gateway", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "provider down")
}

func TestStream_NotConfigured(t *testing.T) {
	err := NewClient("  ").Stream(context.Background(), llm.Request{Model: "m"}, func(string) error { return nil })
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStream_CallbackErrorStopsStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("one"))
		fmt.Fprint(w, sseChunk("two"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	stop := errors.New("client went away")
	calls := 0
	err := NewClient("k").WithBaseURL(server.URL).Stream(context.Background(), llm.Request{Model: "m"}, func(string) error {
		calls++
		return stop
	})

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestStream_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseChunk("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := NewClient("k").WithBaseURL(server.URL).Stream(ctx, llm.Request{Model: "m"}, func(string) error {
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// SSE READER
// =============================================================================

func TestSSEReader_ReadEvent(t *testing.T) {
	input := ": comment\n" +
		"event: message\n" +
		"data: line one\n" +
		"data: line two\n" +
		"\n" +
		"id: 7\n" +
		"data:tight\r\n" +
		"\r\n" +
		"data: no trailing newline"

	r := NewSSEReader(strings.NewReader(input))

	ev, data, err := r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "message", ev)
	assert.Equal(t, "line one\nline two", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "tight", string(data))

	_, data, err = r.ReadEvent()
	require.NoError(t, err)
	assert.Equal(t, "no trailing newline", string(data))

	_, _, err = r.ReadEvent()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSEReader_LineTooLong(t *testing.T) {
	input := "data: " + strings.Repeat("a", MaxEventSize+10) + "\n\n"
	_, _, err := NewSSEReader(strings.NewReader(input)).ReadEvent()
	assert.Error(t, err)
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "none", Fingerprint(""))

	fp := Fingerprint("sk-or-secret")
	assert.Len(t, fp, 8)
	assert.Equal(t, fp, Fingerprint("sk-or-secret"))
	assert.NotEqual(t, fp, Fingerprint("sk-or-other"))

	c := NewClient("sk-or-secret")
	assert.Equal(t, fp, c.KeyFingerprint())
	assert.Equal(t, "none", NewClient("").KeyFingerprint())
}

func TestClientOptions(t *testing.T) {
	c := NewClient("k").WithName("openai").WithBaseURL("https://api.openai.com/v1/")
	assert.Equal(t, "openai", c.Name())
	assert.Equal(t, "https://api.openai.com/v1", c.BaseURL())
	assert.True(t, c.IsConfigured())

	assert.Equal(t, DefaultName, NewClient("k").WithName("").Name())
}
