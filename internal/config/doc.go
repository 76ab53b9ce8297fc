// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and validation for unilife.
//
// The configuration is read once at process start and handed to the model
// registry and the server; nothing reloads it afterwards.
//
// # Example config.toml
//
//	[server]
//	addr = "127.0.0.1:8790"
//	request_timeout_secs = 120
//	allowed_origins = ["https://app.unilife360.app"]
//	rate_limit_rps = 5
//	rate_limit_burst = 10
//
//	[cloud]
//	base_url = "https://openrouter.ai/api/v1"
//
//	[prompts]
//	language = "fr"
//
//	[tasks.onboarding]
//	provider = "openrouter"
//	model = "openai/gpt-4o-mini"
//	temperature = 0.8
//
//	[tasks.summarizer]
//	provider = "ollama"
//	model = "llama3.2:3b"
//
// The API key belongs in UNILIFE_OPENROUTER_KEY rather than the file.
package config
