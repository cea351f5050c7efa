// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "fmt"

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s ends a flight.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateAborted
}

// InFlight reports whether s belongs to a running request.
func (s State) InFlight() bool {
	return s == StateRequesting || s == StateStreaming
}

// Transition is delivered to listeners on every state change.
type Transition struct {
	FlightID       uint64
	ConversationID string
	From, To       State

	// Err is the failure for To == StateFailed.
	Err error

	// Cause is the cancellation reason for To == StateAborted.
	Cause error
}
