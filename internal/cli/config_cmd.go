// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - The "config" command.
//
//   streamchat config show    Print the effective config (secrets redacted)
//   streamchat config path    Print the config file location
//   streamchat config init    Write the defaults to the config file

package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/jeranaias/streamchat/internal/config"
)

// HandleConfig runs a config subcommand.
func HandleConfig(args Args, w io.Writer) error {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPathTOML()
		if err != nil {
			return &CommandError{Command: "config", Action: "locate config", Err: err}
		}
		path = p
	}

	switch args.Subcommand {
	case "show":
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, cfg.String())
		return nil

	case "path":
		fmt.Fprintln(w, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil {
			return &CommandError{Command: "config", Action: "init", Err: fmt.Errorf("%s already exists", path)}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return &CommandError{Command: "config", Action: "init", Err: err}
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return &CommandError{Command: "config", Action: "init", Err: err}
		}
		fmt.Fprintf(w, "%s %s\n", SuccessStyle.Render("Wrote"), path)
		return nil

	default:
		return &UsageError{
			Reason: fmt.Sprintf("unknown config subcommand %q", args.Subcommand),
			Usage:  "streamchat config [show|path|init]",
		}
	}
}
