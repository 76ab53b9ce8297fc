// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tasks.go - summarize, onboard and tutor commands.
//
// Each command builds the same system prompt as the matching HTTP endpoint,
// resolves the task through the registry, and makes one streaming call.
// Fragments go straight to stdout unless --render asks for markdown, which
// needs the whole answer before it can be laid out.
package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/unilife360/internal/config"
	"github.com/jeranaias/unilife360/internal/llm"
	"github.com/jeranaias/unilife360/internal/prompts"
	"github.com/jeranaias/unilife360/internal/registry"
)

// maxNotesBytes bounds what summarize reads from a file or stdin. The prompt
// only keeps the first prompts.MaxSourceChars characters anyway.
const maxNotesBytes = 4 << 20

// HandleSummarize handles `unilife summarize`.
func HandleSummarize(args Args) error {
	notes, err := readNotes(args.File, os.Stdin, IsStdinTTY())
	if err != nil {
		return err
	}

	env, err := loadEnv(args)
	if err != nil {
		return err
	}

	system := env.prompts.Summarizer(args.Course, notes)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: prompts.SummaryRequest(args.Course)}}
	if !args.Quiet && len([]rune(notes)) > prompts.MaxSourceChars {
		fmt.Fprintln(os.Stderr, RenderConditional(WarningStyle,
			fmt.Sprintf("notes truncated to the first %d characters", prompts.MaxSourceChars)))
	}
	return env.run(registry.TaskSummarizer, system, msgs, args.Render && IsStdoutTTY())
}

// HandleOnboard handles `unilife onboard`.
func HandleOnboard(args Args) error {
	if strings.TrimSpace(args.Query) == "" {
		return ErrMissingArgument("a message", `unilife onboard --step 2 --fact name=Ada "I study physics"`)
	}
	env, err := loadEnv(args)
	if err != nil {
		return err
	}

	system := env.prompts.Onboarding(args.Step, args.Facts)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: args.Query}}
	return env.run(registry.TaskOnboarding, system, msgs, false)
}

// HandleTutor handles `unilife tutor`.
func HandleTutor(args Args) error {
	if strings.TrimSpace(args.Query) == "" {
		return ErrMissingArgument("a question", `unilife tutor --course "Linear Algebra" "what is an eigenvector?"`)
	}
	env, err := loadEnv(args)
	if err != nil {
		return err
	}

	system := env.prompts.Tutor(args.Course)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: args.Query}}
	return env.run(registry.TaskTutor, system, msgs, false)
}

// readNotes reads the notes file, or stdin when no file is given. A terminal
// on stdin means nothing was piped in.
func readNotes(path string, stdin io.Reader, stdinIsTTY bool) (string, error) {
	var r io.Reader
	switch {
	case path != "" && path != "-":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open notes: %w", err)
		}
		defer f.Close()
		r = f
	case stdinIsTTY:
		return "", ErrMissingArgument("notes (--file PATH or stdin)", `unilife summarize --course "Algo 101" < notes.md`)
	default:
		r = stdin
	}

	data, err := io.ReadAll(io.LimitReader(r, maxNotesBytes))
	if err != nil {
		return "", fmt.Errorf("read notes: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", &UsageError{Reason: "notes are empty"}
	}
	return string(data), nil
}

// taskEnv is what a task command needs once config is loaded.
type taskEnv struct {
	registry *registry.Registry
	prompts  *prompts.Builder
	timeout  time.Duration
	quiet    bool
	out      io.Writer
	errOut   io.Writer
}

// loadEnv loads config and builds the registry. Missing credentials or bad
// bindings fail here, before any prompt is built.
func loadEnv(args Args) (*taskEnv, error) {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(cfg)
	if err != nil {
		return nil, err
	}
	builder, err := prompts.NewBuilder(cfg.Prompts.Language)
	if err != nil {
		return nil, err
	}
	return &taskEnv{
		registry: reg,
		prompts:  builder,
		timeout:  time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		quiet:    args.Quiet,
		out:      os.Stdout,
		errOut:   os.Stderr,
	}, nil
}

// run streams one task with Ctrl-C cancelling the request.
func (e *taskEnv) run(task registry.Task, system string, msgs []llm.Message, render bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.stream(ctx, task, system, msgs, render)
}

func (e *taskEnv) stream(ctx context.Context, task registry.Task, system string, msgs []llm.Message, render bool) error {
	h, err := e.registry.Lookup(task)
	if err != nil {
		return err
	}
	if !e.quiet {
		fmt.Fprintln(e.errOut, RenderConditional(DimStyle,
			fmt.Sprintf("%s via %s/%s (temperature %s)", task, h.Provider, h.Model, h.TemperatureString())))
	}

	start := time.Now()
	var buf strings.Builder
	fragments := 0
	var usage llm.Usage
	err = h.Stream(llm.WithUsage(ctx, &usage), system, msgs, func(fragment string) error {
		if fragment == "" {
			return nil
		}
		fragments++
		if render {
			buf.WriteString(fragment)
			return nil
		}
		_, werr := io.WriteString(e.out, fragment)
		return werr
	})
	if err != nil {
		if fragments > 0 && !render {
			fmt.Fprintln(e.out)
		}
		return &CommandError{Command: string(task), Action: "stream", Err: err}
	}

	if render {
		fmt.Fprint(e.out, renderMarkdown(buf.String(), RenderWidth()))
	} else {
		fmt.Fprintln(e.out)
	}
	log.Printf("CLI_STREAM_DONE | task=%s provider=%s model=%s fragments=%d duration=%s%s",
		task, h.Provider, h.Model, fragments, time.Since(start).Round(time.Millisecond), usage.LogFields())
	return nil
}

// renderMarkdown lays out markdown for the terminal. Falls back to the raw
// text when the renderer cannot be built.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
