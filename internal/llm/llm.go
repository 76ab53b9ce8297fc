// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm defines the streaming contract shared by every model provider.
//
// Providers (internal/cloud, internal/ollama) adapt their wire protocol to
// Provider. Callers hand a Request and a FragmentFunc; the provider invokes the
// callback once per text fragment, synchronously and in the order received.
package llm

import (
	"context"
	"fmt"
	"time"
)

// Message roles accepted by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether role may appear in a conversation history.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ValidateMessages rejects histories carrying unknown roles.
func ValidateMessages(messages []Message) error {
	for i, msg := range messages {
		if !ValidRole(msg.Role) {
			return fmt.Errorf("invalid role %q at message %d: must be one of system, user, assistant", msg.Role, i)
		}
	}
	return nil
}

// Request is a single streaming generation call.
type Request struct {
	Model    string
	System   string
	Messages []Message

	// Temperature is nil when the provider default should apply.
	Temperature *float64

	// MaxTokens of 0 leaves the limit to the provider.
	MaxTokens int
}

// WithSystem returns the history with System prepended as a system message.
// Providers whose wire format has no separate system field use this.
func (r Request) WithSystem() []Message {
	if r.System == "" {
		return r.Messages
	}
	out := make([]Message, 0, len(r.Messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: r.System})
	return append(out, r.Messages...)
}

// FragmentFunc receives each text fragment. Returning an error stops the stream.
type FragmentFunc func(fragment string) error

// Provider issues streaming generation calls.
type Provider interface {
	// Name identifies the provider in logs and listings.
	Name() string

	// Stream performs one streaming call. It returns nil once the provider
	// signals completion, the callback's error if it stops the stream, or
	// the transport/provider error otherwise. No retries are attempted.
	Stream(ctx context.Context, req Request, onFragment FragmentFunc) error
}

// Usage is the accounting a provider reports once a stream completes.
type Usage struct {
	Model            string // model name as reported by the provider
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration // provider-side generation time, 0 if unknown
}

// LogFields renders u as key=value pairs for a log line, led by a space.
// It is empty when nothing was reported.
func (u Usage) LogFields() string {
	if u == (Usage{}) {
		return ""
	}
	return fmt.Sprintf(" reported_model=%s prompt_tokens=%d completion_tokens=%d provider_duration=%.3fs",
		u.Model, u.PromptTokens, u.CompletionTokens, u.Duration.Seconds())
}

type usageKey struct{}

// WithUsage returns a context under which providers record the usage of a
// completed stream into u. Providers that report nothing leave u untouched.
func WithUsage(ctx context.Context, u *Usage) context.Context {
	return context.WithValue(ctx, usageKey{}, u)
}

// ReportUsage stores u in the record attached by WithUsage, if any.
func ReportUsage(ctx context.Context, u Usage) {
	if dst, ok := ctx.Value(usageKey{}).(*Usage); ok && dst != nil {
		*dst = u
	}
}

// Float returns a pointer to v, for optional sampling parameters.
func Float(v float64) *float64 {
	return &v
}
