// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(io.Discard, "", 0)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// AUTH
// =============================================================================

func TestValidateBearerToken(t *testing.T) {
	tests := []struct {
		token, expected string
		want            bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"", "abc", false},
		{"abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := ValidateBearerToken(tt.token, tt.expected); got != tt.want {
			t.Errorf("ValidateBearerToken(%q, %q) = %v, want %v", tt.token, tt.expected, got, tt.want)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	cfg := DefaultAuthConfig()
	cfg.Enabled = true
	cfg.BearerToken = "tok"
	cfg.AllowedIPs = []string{"192.0.2.0/24", "198.51.100.7"}
	h := AuthMiddleware(cfg)(okHandler())

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		header     string
		want       int
	}{
		{"valid", "/api/tutor", "192.0.2.1:1234", "Bearer tok", http.StatusOK},
		{"single ip", "/api/tutor", "198.51.100.7:1", "Bearer tok", http.StatusOK},
		{"ip not allowed", "/api/tutor", "203.0.113.9:1234", "Bearer tok", http.StatusUnauthorized},
		{"missing header", "/api/tutor", "192.0.2.1:1234", "", http.StatusUnauthorized},
		{"basic auth", "/api/tutor", "192.0.2.1:1234", "Basic dG9rOg==", http.StatusUnauthorized},
		{"wrong token", "/api/tutor", "192.0.2.1:1234", "Bearer nope", http.StatusUnauthorized},
		{"exempt health", "/health", "203.0.113.9:1234", "", http.StatusOK},
		{"exempt metrics", "/metrics", "203.0.113.9:1234", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	h := AuthMiddleware(DefaultAuthConfig())(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tutor", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// =============================================================================
// CORS
// =============================================================================

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware(NewCORSConfig([]string{"https://app.unilife360.app", "*.campus.edu"}))(okHandler())

	tests := []struct {
		origin string
		want   string
	}{
		{"https://app.unilife360.app", "https://app.unilife360.app"},
		{"https://portal.campus.edu", "https://portal.campus.edu"},
		{"https://evil.example", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/tutor", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("origin %q: status = %d, want 200", tt.origin, rec.Code)
		}
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	h := CORSMiddleware(NewCORSConfig([]string{"*"}))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://anything.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

// =============================================================================
// RATE LIMITER
// =============================================================================

func TestRateLimiter_TokenBucket(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Now()

	if !rl.allowAt("a", now) || !rl.allowAt("a", now) {
		t.Fatal("burst of 2 should be allowed")
	}
	if rl.allowAt("a", now) {
		t.Error("third request in the same instant should be denied")
	}
	if !rl.allowAt("b", now) {
		t.Error("clients have independent buckets")
	}
	if !rl.allowAt("a", now.Add(1100*time.Millisecond)) {
		t.Error("a token should refill after one second")
	}
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	rl := NewRateLimiter(5, 5)
	now := time.Now()

	rl.allowAt("a", now)
	rl.allowAt("b", now)
	if rl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rl.Len())
	}

	rl.allowAt("c", now.Add(rl.ttl+time.Minute))
	if rl.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", rl.Len())
	}
}

// =============================================================================
// RECOVERY, LOGGING, CHAIN
// =============================================================================

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), errTypeInternal)
}

func TestRecoveryMiddleware_RepanicsAbort(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithError(t, http.ErrAbortHandler.Error(), func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingMiddleware_FlushAndStatus(t *testing.T) {
	var seenID string
	h := LoggingMiddleware(testLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("chunk"))
		if err := http.NewResponseController(w).Flush(); err != nil {
			t.Errorf("Flush() through middleware = %v", err)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, rec.Flushed)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), seenID)
	assert.Len(t, seenID, 36)
}

func TestLoggingMiddleware_ReplacesInvalidRequestID(t *testing.T) {
	h := LoggingMiddleware(testLogger(t))(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid\nINJECTED")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotContains(t, rec.Header().Get(RequestIDHeader), "INJECTED")
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	Chain(mw("outer"), mw("middle"), mw("inner"))(okHandler()).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "middle", "inner"}, order)
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeadersMiddleware()(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

// =============================================================================
// CLIENT IP
// =============================================================================

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"direct", "203.0.113.5:4000", "", "", "203.0.113.5"},
		{"untrusted peer ignores xff", "203.0.113.5:4000", "1.2.3.4", "", "203.0.113.5"},
		{"trusted proxy xff", "10.0.0.2:4000", "198.51.100.1, 10.0.0.2", "", "198.51.100.1"},
		{"trusted proxy invalid xff falls to xri", "127.0.0.1:4000", "garbage", "198.51.100.2", "198.51.100.2"},
		{"trusted proxy no headers", "192.168.1.10:4000", "", "", "192.168.1.10"},
		{"ipv6 loopback proxy", "[::1]:4000", "2001:db8::1", "", "2001:db8::1"},
		{"no port", "203.0.113.5", "", "", "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParsePrefixes_SkipsInvalid(t *testing.T) {
	got := parsePrefixes([]string{"10.0.0.0/8", "bogus", "10.0.0.0/99", "::1"}, "TEST")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %v", len(got), got)
	}
	if !strings.HasPrefix(got[1].String(), "::1/128") {
		t.Errorf("single address should become a host prefix, got %s", got[1])
	}
}
