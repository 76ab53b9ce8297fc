// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// The client implements llm.Provider on top of POST /api/chat with streaming
// enabled. Ollama answers with newline-delimited JSON: one object per token
// batch, the last one carrying `"done": true` and timing statistics.
//
// # Key Types
//
//   - Client: llm.Provider for a local Ollama daemon
//   - StreamReader: NDJSON reader that yields StreamChunk values in order
//   - ClientError: typed error with sentinels ErrNotRunning, ErrTimeout, ErrModelNotFound
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: "http://127.0.0.1:11434"})
//	err := client.Stream(ctx, llm.Request{Model: "llama3.2:3b", Messages: msgs},
//	    func(fragment string) error {
//	        fmt.Print(fragment)
//	        return nil
//	    })
//	if ollama.IsNotRunning(err) {
//	    // start the daemon
//	}
package ollama
