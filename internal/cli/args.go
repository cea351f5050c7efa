// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing shared by commands and chat slash commands.

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser splits raw arguments into flags and positionals.
// It handles multiple flag formats consistently:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
//   - Positional arguments: arguments without flags
type ArgParser struct {
	flags      map[string]string
	boolFlags  map[string]bool
	positional []string
}

// NewArgParser parses raw. A flag followed by a non-flag argument takes it
// as its value; otherwise the flag is boolean.
//
// Example:
//
//	p := NewArgParser([]string{"--model", "m1", "--new"})
//	p.Flag("model", "m")  // "m1"
//	p.BoolFlag("new")     // true
func NewArgParser(raw []string) *ArgParser {
	p := &ArgParser{
		flags:     make(map[string]string),
		boolFlags: make(map[string]bool),
	}

	for i := 0; i < len(raw); i++ {
		arg := raw[i]
		if arg == "--" {
			p.positional = append(p.positional, raw[i+1:]...)
			break
		}
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			p.positional = append(p.positional, arg)
			continue
		}

		name := strings.TrimLeft(arg, "-")
		if n, v, ok := strings.Cut(name, "="); ok {
			// Boolean flags can be explicit: --json=true, --json=false
			if v == "true" || v == "false" {
				p.boolFlags[n] = v == "true"
			} else {
				p.flags[n] = v
			}
			continue
		}

		if i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			p.flags[name] = raw[i+1]
			i++
		} else {
			p.boolFlags[name] = true
		}
	}
	return p
}

// Subcommand returns the first positional argument, or "".
func (p *ArgParser) Subcommand() string {
	return p.Positional(0)
}

// Flag returns the value of the first of names that was given, or "".
// Pass the long name first and any short aliases after it.
func (p *ArgParser) Flag(names ...string) string {
	for _, name := range names {
		if val, ok := p.flags[strings.TrimLeft(name, "-")]; ok {
			return val
		}
	}
	return ""
}

// BoolFlag reports whether any of names was given as a boolean flag.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, name := range names {
		if p.boolFlags[strings.TrimLeft(name, "-")] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// =============================================================================
// HELPER FUNCTIONS FOR COMMON ARG PATTERNS
// =============================================================================

// ParseIntWithValidation parses a positive integer.
func ParseIntWithValidation(s string, fieldName string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%s is required", fieldName)
	}

	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", fieldName, s)
	}

	if val <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", fieldName, val)
	}

	return val, nil
}

// splitCommand splits a slash command line into its name and the raw
// remainder, which keeps its inner spacing.
//
// Example: "/edit 3  hello  world" -> "edit", "3  hello  world"
func splitCommand(line string) (name, rest string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, rest, _ = strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}
