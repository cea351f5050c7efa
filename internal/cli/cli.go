// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for streamchat.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdServe
	CmdModels
	CmdList
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdServe:
		return "serve"
	case CmdModels:
		return "models"
	case CmdList:
		return "list"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return fmt.Sprintf("Command(%d)", int(c))
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Backend    string
	LogLevel   string
	Storage    string
	NoColor    bool

	// Command-specific
	Subcommand string
	Model      string
	Conv       string
	Addr       string
	JSON       bool
	New        bool

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `streamchat - streaming chat client and backend

Usage:
  streamchat [global flags] [command] [flags]

Commands:
  chat                      Interactive chat (default)
    -m, --model NAME          Start with this model
    --new                     Start in a fresh conversation
    --conversation N|ID       Resume this conversation
  serve                     Run the chat backend
    --addr ADDR               Listen address (default from config)
  list                      List saved conversations
    --json                    Output in JSON format
  models                    List the models offered by the backend
    --json                    Output in JSON format
  config [show|path|init]   Show, locate or create the config file
  version                   Show version information
  help                      Show this help

Global flags:
  -c, --config PATH         Config file (default ~/.streamchat/config.toml)
  -b, --backend URL         Backend URL for chat, list and models
  --log-level LEVEL         trace, debug, info, warn, error or off
  --storage KIND            file, sqlite or memory
  --no-color                Disable colored output

Chat commands:
  /new                      Start a new conversation
  /list                     List conversations
  /switch N|ID              Switch conversation
  /delete [N|ID]            Delete a conversation (default: current)
  /rename TITLE             Rename the current conversation
  /system [PROMPT|-]        Show, set or clear the system prompt
  /model [NAME]             Show or switch model
  /models                   List models
  /history                  Show the current conversation
  /edit N TEXT              Replace message N and resubmit
  /regen [N]                Regenerate response N (default: last)
  /stop                     Stop the current response
  /export                   Publish the conversation and print its link
  /help, /quit
  Ctrl+C                    Stop a streaming response

Environment:
  STREAMCHAT_*              Override any config key (see config show)
  NO_COLOR                  Disable colored output

Version: %s
`

// PrintUsage writes the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "streamchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments (without the program name) and
// returns the command and args.
func Parse(argv []string) (Command, Args, error) {
	remaining, args, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdHelp, args, err
	}

	if len(remaining) == 0 {
		return CmdChat, args, nil
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	args.Raw = remaining

	switch cmd {
	case "chat":
		return CmdChat, args, parseChatArgs(&args, remaining)
	case "serve", "server":
		return CmdServe, args, parseServeArgs(&args, remaining)
	case "list", "ls":
		args.JSON = NewArgParser(remaining).BoolFlag("json")
		return CmdList, args, nil
	case "models":
		args.JSON = NewArgParser(remaining).BoolFlag("json")
		return CmdModels, args, nil
	case "config":
		args.Subcommand = NewArgParser(remaining).Subcommand()
		if args.Subcommand == "" {
			args.Subcommand = "show"
		}
		return CmdConfig, args, nil
	case "version", "--version", "-V":
		return CmdVersion, args, nil
	case "help", "--help", "-h":
		return CmdHelp, args, nil
	default:
		return CmdHelp, args, &UsageError{Reason: fmt.Sprintf("unknown command %q", cmd)}
	}
}

// parseGlobalFlags extracts global flags from argv and returns the rest.
func parseGlobalFlags(argv []string) ([]string, Args, error) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		name, value, hasValue := strings.Cut(arg, "=")

		var target *string
		switch name {
		case "-c", "--config":
			target = &args.ConfigPath
		case "-b", "--backend":
			target = &args.Backend
		case "--log-level":
			target = &args.LogLevel
		case "--storage":
			target = &args.Storage
		case "--no-color":
			args.NoColor = true
			continue
		default:
			remaining = append(remaining, arg)
			continue
		}

		if !hasValue {
			if i+1 >= len(argv) {
				return nil, args, &UsageError{Reason: fmt.Sprintf("flag %s requires a value", name)}
			}
			i++
			value = argv[i]
		}
		*target = value
	}

	return remaining, args, nil
}

const chatUsage = "streamchat chat [--model NAME] [--new | --conversation N|ID]"

func parseChatArgs(args *Args, remaining []string) error {
	p := NewArgParser(remaining)
	args.Model = p.Flag("model", "m")
	args.Conv = p.Flag("conversation", "C")
	args.New = p.BoolFlag("new")
	if p.PositionalCount() > 0 {
		return &UsageError{Reason: fmt.Sprintf("unexpected argument %q", p.Positional(0)), Usage: chatUsage}
	}
	if args.New && args.Conv != "" {
		return &UsageError{Reason: "--new and --conversation are mutually exclusive", Usage: chatUsage}
	}
	return nil
}

func parseServeArgs(args *Args, remaining []string) error {
	p := NewArgParser(remaining)
	args.Addr = p.Flag("addr")
	if p.PositionalCount() > 0 {
		return &UsageError{Reason: fmt.Sprintf("unexpected argument %q", p.Positional(0)), Usage: "streamchat serve [--addr ADDR]"}
	}
	return nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run executes cmd. Commands that block install their own signal handling.
func Run(ctx context.Context, cmd Command, args Args) error {
	if args.NoColor {
		DisableColors()
	}

	switch cmd {
	case CmdChat:
		return HandleChat(ctx, args)
	case CmdServe:
		return HandleServe(ctx, args)
	case CmdList:
		return HandleList(args, os.Stdout)
	case CmdModels:
		return HandleModels(ctx, args, os.Stdout)
	case CmdConfig:
		return HandleConfig(args, os.Stdout)
	case CmdVersion:
		PrintVersion(os.Stdout)
		return nil
	default:
		PrintUsage(os.Stdout)
		return nil
	}
}
