// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

// ConnState represents the stages of the gateway link.
type ConnState uint32

const (
	// StateNotConnected is the state before the first connect step ran.
	StateNotConnected ConnState = iota
	// StateConnecting indicates a connect step is in progress.
	StateConnecting
	// StateConnected indicates requests are dispatched to the link.
	StateConnected
	// StateLost indicates the link timed out or failed mid-request.
	StateLost
	// StateFailed indicates the last connect step failed.
	StateFailed
	// StateClosed is terminal.
	StateClosed
)

// IsConnected returns if requests can be dispatched.
func (cs ConnState) IsConnected() bool { return cs == StateConnected }

// String returns string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case StateNotConnected:
		return "not-connected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLost:
		return "lost"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
