// streamchat - A streaming LLM chat client and its backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"

	"github.com/jeranaias/streamchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate

	cmd, args, err := cli.Parse(os.Args[1:])
	if err == nil {
		err = cli.Run(context.Background(), cmd, args)
	}
	if err != nil {
		cli.DisplayError(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
