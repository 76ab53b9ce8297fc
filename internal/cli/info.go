// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// info.go - models, config and version commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/jeranaias/unilife360/internal/config"
	"github.com/jeranaias/unilife360/internal/registry"
)

// HandleModels handles `unilife models`. It builds the registry, so it also
// serves as a startup check for credentials and bindings, and reports
// whether each provider answers.
func HandleModels(args Args) error {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return err
	}
	reg, err := registry.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), providerCheckTimeout)
	defer cancel()

	rows := modelRows(ctx, reg)
	if args.JSON {
		return NewJSONResponse("models", rows).Print()
	}
	printModels(os.Stdout, rows)
	return nil
}

// providerCheckTimeout bounds the reachability check of `unilife models`.
const providerCheckTimeout = 3 * time.Second

// modelRows lists the task bindings. Each provider is checked once; tasks
// sharing it share the result.
func modelRows(ctx context.Context, reg *registry.Registry) []ModelData {
	handles := reg.Handles()
	rows := make([]ModelData, 0, len(handles))
	statuses := make(map[string]string)
	for _, h := range handles {
		status, seen := statuses[h.Provider]
		if !seen {
			status = h.Status(ctx)
			statuses[h.Provider] = status
		}
		rows = append(rows, ModelData{
			Task:        string(h.Task),
			Provider:    h.Provider,
			Model:       h.Model,
			Temperature: h.Temperature,
			MaxTokens:   h.MaxTokens,
			Credential:  h.Fingerprint(),
			Status:      status,
		})
	}
	return rows
}

func printModels(w io.Writer, rows []ModelData) {
	fmt.Fprintln(w, RenderConditional(TitleStyle, "Task bindings"))
	fmt.Fprintln(w, RenderSeparator())
	for _, r := range rows {
		fmt.Fprintf(w, "%s %s %s/%s %s\n",
			RenderLabel(r.Task),
			RenderStatus(r.Status),
			r.Provider,
			RenderConditional(ValueStyle, r.Model),
			RenderConditional(DimStyle, fmt.Sprintf("temperature=%s credential=%s",
				registry.FormatTemperature(r.Temperature), r.Credential)))
	}
}

// HandleConfig handles `unilife config [show|path|init]`.
func HandleConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		cfg, err := config.Load(args.ConfigPath)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("config show", cfg.Redacted()).Print()
		}
		fmt.Print(cfg.String())
		return nil

	case "path":
		data := ConfigPathData{Path: config.ResolvePath(args.ConfigPath)}
		if data.Path != "" {
			_, err := os.Stat(data.Path)
			data.Exists = err == nil
		}
		if args.JSON {
			return NewJSONResponse("config path", data).Print()
		}
		if data.Path == "" {
			fmt.Println(RenderConditional(DimStyle, "no config file; using defaults and environment"))
			return nil
		}
		fmt.Println(data.Path)
		return nil

	case "init":
		return initConfig(args)

	default:
		return &UsageError{Reason: fmt.Sprintf("unknown config subcommand %q", args.Subcommand), Example: "unilife config show"}
	}
}

// initConfig writes the default config. An existing file is never
// overwritten.
func initConfig(args Args) error {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		path = p
	}
	if _, err := os.Stat(path); err == nil {
		return &CommandError{Command: "config", Action: "init", Err: fmt.Errorf("%s already exists", path)}
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return &CommandError{Command: "config", Action: "init", Err: err}
	}
	if args.JSON {
		return NewJSONResponse("config init", ConfigPathData{Path: path, Exists: true}).Print()
	}
	fmt.Printf("%s wrote %s\n", RenderConditional(SuccessStyle, "[OK]"), path)
	return nil
}

// HandleVersion handles `unilife version`.
func HandleVersion(args Args) error {
	if !args.JSON {
		PrintVersion()
		return nil
	}
	return NewJSONResponse("version", map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_date": BuildDate,
		"go_version": runtime.Version(),
	}).Print()
}

