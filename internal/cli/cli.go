// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing for unilife.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdServe Command = iota
	CmdSummarize
	CmdOnboard
	CmdTutor
	CmdModels
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdServe:
		return "serve"
	case CmdSummarize:
		return "summarize"
	case CmdOnboard:
		return "onboard"
	case CmdTutor:
		return "tutor"
	case CmdModels:
		return "models"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Quiet      bool
	Verbose    bool
	JSON       bool

	// Command-specific
	Query      string
	Course     string
	File       string
	Render     bool
	Step       int
	Facts      map[string]any
	Subcommand string
	Addr       string

	// Unknown is set when the first word was not a known command.
	Unknown string

	// Raw args (remaining after the command word)
	Raw []string
}

const usageText = `unilife - AI streaming service for UniLife 360

Usage:
  unilife [serve]                   Start the HTTP streaming server (default)
  unilife summarize                 Summarize course notes
  unilife onboard "message"         Run one onboarding turn
  unilife tutor "question"          Ask the study tutor
  unilife models                    Show task to model bindings
  unilife config [show|path|init]   Configuration
  unilife version                   Show version
  unilife help                      Show this help

Serve:
  --addr HOST:PORT                  Override server.addr

Summarize:
  --course NAME                     Course the notes belong to
  -f, --file PATH                   Notes file (default: stdin)
  --render                          Render the summary as markdown on a terminal

Onboard:
  --step N                          Onboarding stage (default: 1)
  --fact KEY=VALUE                  Known answer, repeatable (e.g. --fact name=Ada)

Tutor:
  --course NAME                     Course the question is about

Config:
  unilife config show               Print the effective config (secrets redacted)
  unilife config path               Print the config file in use
  unilife config init               Write a default config.toml

Global flags:
  --config PATH                     Config file (default: ~/.unilife/config.toml)
  -q, --quiet                       Only print model output
  -v, --verbose                     Verbose logging
  --json                            JSON output where supported

Environment:
  UNILIFE_CONFIG                    Config file path
  UNILIFE_OPENROUTER_KEY            OpenRouter API key (or OPENROUTER_API_KEY)
  UNILIFE_ADDR                      Listen address
  UNILIFE_<TASK>_PROVIDER           Provider for a task (openrouter, ollama)
  UNILIFE_<TASK>_MODEL              Model for a task

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("unilife version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
	fmt.Printf("  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses os.Args and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses an argument list (without the program name).
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdServe, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "serve", "server":
		parseServeArgs(&parsedArgs, remaining)
		return CmdServe, parsedArgs

	case "summarize", "summarise", "sum":
		parseSummarizeArgs(&parsedArgs, remaining)
		return CmdSummarize, parsedArgs

	case "onboard", "onboarding":
		parseOnboardArgs(&parsedArgs, remaining)
		return CmdOnboard, parsedArgs

	case "tutor":
		parseTutorArgs(&parsedArgs, remaining)
		return CmdTutor, parsedArgs

	case "models":
		return CmdModels, parsedArgs

	case "config":
		parsedArgs.Subcommand = "show"
		if len(remaining) > 0 {
			parsedArgs.Subcommand = strings.ToLower(remaining[0])
		}
		return CmdConfig, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "--help", "-h":
		return CmdHelp, parsedArgs

	default:
		parsedArgs.Unknown = cmd
		return CmdHelp, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	parsedArgs := Args{
		Step:  1,
		Facts: make(map[string]any),
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--config":
			if i+1 < len(args) {
				i++
				parsedArgs.ConfigPath = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--config=") {
				parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// flagValue reads the value of a "--name value" or "--name=value" flag at
// position i. It returns the value, the index of the last consumed argument,
// and whether arg was the flag at all.
func flagValue(args []string, i int, names ...string) (string, int, bool) {
	arg := args[i]
	for _, name := range names {
		if arg == name {
			if i+1 < len(args) {
				return args[i+1], i + 1, true
			}
			return "", i, true
		}
		if strings.HasPrefix(name, "--") && strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"="), i, true
		}
	}
	return "", i, false
}

func parseServeArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		if v, next, ok := flagValue(remaining, i, "--addr"); ok {
			args.Addr = v
			i = next
		}
	}
}

func parseSummarizeArgs(args *Args, remaining []string) {
	for i := 0; i < len(remaining); i++ {
		if v, next, ok := flagValue(remaining, i, "--course", "-c"); ok {
			args.Course = v
			i = next
			continue
		}
		if v, next, ok := flagValue(remaining, i, "--file", "-f"); ok {
			args.File = v
			i = next
			continue
		}
		if remaining[i] == "--render" {
			args.Render = true
		}
	}
}

// parseOnboardArgs parses --step, repeated --fact and the message words.
// An invalid step is ignored and the default of 1 is kept.
func parseOnboardArgs(args *Args, remaining []string) {
	var query []string
	for i := 0; i < len(remaining); i++ {
		if v, next, ok := flagValue(remaining, i, "--step", "-s"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				args.Step = n
			}
			i = next
			continue
		}
		if v, next, ok := flagValue(remaining, i, "--fact"); ok {
			if key, val, found := strings.Cut(v, "="); found && strings.TrimSpace(key) != "" {
				args.Facts[strings.TrimSpace(key)] = val
			}
			i = next
			continue
		}
		if !strings.HasPrefix(remaining[i], "-") {
			query = append(query, remaining[i])
		}
	}
	args.Query = strings.Join(query, " ")
}

func parseTutorArgs(args *Args, remaining []string) {
	var query []string
	for i := 0; i < len(remaining); i++ {
		if v, next, ok := flagValue(remaining, i, "--course", "-c"); ok {
			args.Course = v
			i = next
			continue
		}
		if !strings.HasPrefix(remaining[i], "-") {
			query = append(query, remaining[i])
		}
	}
	args.Query = strings.Join(query, " ")
}
