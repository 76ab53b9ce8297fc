// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for unilife.
//
// The default command runs the HTTP streaming server. The task commands
// (summarize, onboard, tutor) run the same prompt and registry path as the
// HTTP endpoints and stream the answer to stdout, which makes them useful for
// checking model bindings and prompt changes without a client.
//
// # Usage
//
//	cmd, args := cli.Parse()
//	switch cmd {
//	case cli.CmdServe:
//	    err = cli.HandleServe(args)
//	case cli.CmdSummarize:
//	    err = cli.HandleSummarize(args)
//	// ... other commands
//	}
//
// Commands that report data (models, config show, version) support --json.
package cli
