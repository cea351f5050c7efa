// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types, exit codes and error display for the CLI.
//
// STANDARDIZED PATTERN:
//   - Handlers return errors; only main prints them
//   - Exit codes are derived from the error chain, not from call sites

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"

	"github.com/jeranaias/streamchat/internal/backend"
	"github.com/jeranaias/streamchat/internal/chat"
	"github.com/jeranaias/streamchat/internal/config"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // e.g. "serve", "models"
	Action  string // e.g. "load config", "open storage"
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError is a malformed command line.
type UsageError struct {
	Reason string
	Usage  string // optional usage line
}

func (e *UsageError) Error() string {
	if e.Usage != "" {
		return e.Reason + "\nUsage: " + e.Usage
	}
	return e.Reason
}

// configError marks failures to load or validate configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps err to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	var cfgErr *configError
	var validation config.ValidationError
	var multi *multierror.Error
	var transport *backend.TransportError

	switch {
	case errors.As(err, &usage):
		return ExitUsageError
	case errors.As(err, &cfgErr), errors.As(err, &validation), errors.As(err, &multi):
		return ExitConfigError
	case errors.As(err, &transport), errors.Is(err, chat.ErrNoModels):
		return ExitNetworkError
	case errors.Is(err, chat.ErrNotFound):
		return ExitNotFoundError
	default:
		return ExitGeneralError
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w in the CLI's error style.
func DisplayError(w io.Writer, err error) {
	if err == nil {
		return
	}
	msg := chat.UserMessage(err)
	if msg == "" {
		msg = err.Error()
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), msg)

	var usage *UsageError
	if errors.As(err, &usage) && usage.Usage == "" {
		fmt.Fprintln(w, DimStyle.Render("Run 'streamchat help' for usage."))
	}
}
