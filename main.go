// unilife - AI streaming service for the UniLife 360 student app.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/jeranaias/unilife360/internal/cli"
	"github.com/jeranaias/unilife360/internal/server"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
	server.Version = Version
}

func main() {
	cmd, args := cli.Parse()
	cli.ConfigureLogging(args)

	var err error
	switch cmd {
	case cli.CmdServe:
		err = cli.HandleServe(args)
	case cli.CmdSummarize:
		err = cli.HandleSummarize(args)
	case cli.CmdOnboard:
		err = cli.HandleOnboard(args)
	case cli.CmdTutor:
		err = cli.HandleTutor(args)
	case cli.CmdModels:
		err = cli.HandleModels(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdVersion:
		err = cli.HandleVersion(args)
	default:
		if args.Unknown != "" {
			fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args.Unknown)
			cli.PrintUsage()
			os.Exit(cli.ExitUsageError)
		}
		cli.PrintUsage()
	}

	if err != nil {
		cli.DisplayError(cmd.String(), err, args.JSON)
		os.Exit(cli.GetExitCode(err))
	}
}
