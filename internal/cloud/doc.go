// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the hosted model provider.
//
// The client speaks the OpenAI-compatible chat completions protocol with
// `stream: true` and decodes the Server-Sent Events response. OpenRouter is the
// default endpoint; any compatible base URL works.
//
// # Error Handling
//
// HTTP failures map to sentinel errors that callers test with errors.Is:
//
//   - ErrAuthFailed (401/403)
//   - ErrInsufficientCredits (402)
//   - ErrModelNotFound (404)
//   - ErrRateLimited (429)
//
// Anything else, including an error object sent inside the event stream, is
// an *APIError. Streaming calls are never retried: a retry after partial
// output would duplicate text the caller has already relayed.
//
// # Usage
//
//	client := cloud.NewClient(apiKey)
//	err := client.Stream(ctx, llm.Request{Model: "openai/gpt-4o-mini", Messages: msgs},
//	    func(fragment string) error {
//	        fmt.Print(fragment)
//	        return nil
//	    })
package cloud
