// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error display and exit codes for unilife commands.
//
// Command handlers always return errors. main decides how to display them
// and which exit code to use.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jeranaias/unilife360/internal/cloud"
	"github.com/jeranaias/unilife360/internal/config"
	"github.com/jeranaias/unilife360/internal/ollama"
	"github.com/jeranaias/unilife360/internal/registry"
)

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitUsageError   = 2
	ExitConfigError  = 3
	ExitAuthError    = 4
	ExitNetworkError = 5
	ExitTimeoutError = 8
)

// UsageError reports an invalid command line.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s (example: %s)", e.Reason, e.Example)
	}
	return e.Reason
}

// CommandError wraps a failure with the command and action that failed.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ErrMissingArgument creates a usage error for a missing argument.
func ErrMissingArgument(what, example string) error {
	return &UsageError{Reason: what + " is required", Example: example}
}

// DisplayError prints err to stderr, or as a JSON response on stdout in
// JSON mode.
func DisplayError(command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = NewJSONErrorResponse(command, err).Print()
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", RenderConditional(ErrorStyle, "[ERROR]"), err.Error())
}

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}

	var invalid config.ValidateErrors
	if errors.Is(err, registry.ErrConfiguration) || errors.As(err, &invalid) {
		return ExitConfigError
	}

	switch {
	case errors.Is(err, cloud.ErrAuthFailed), errors.Is(err, cloud.ErrNotConfigured):
		return ExitAuthError
	case errors.Is(err, context.DeadlineExceeded), ollama.IsTimeout(err):
		return ExitTimeoutError
	case ollama.IsNotRunning(err):
		return ExitNetworkError
	}
	return ExitGeneralError
}
