/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package peerconn

// State is the per-peer lifecycle state of §4.5's state machine.
type State string

const (
	StateNone       State = "none"
	StateOffering   State = "offering"
	StateAnswering  State = "answering"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateRestarting State = "restarting"
	StateRemoved    State = "removed"
)

const (
	maxICERestartAttempts = 3
	disconnectGraceDelay  = 5
	iceRestartWatchdogSec = 15
	// newConnectionStaleMs is the default age (§4.5's tiebreaker rule)
	// beyond which a "new" peer entry is considered stale and replaceable.
	// Left tunable per deployment per §9's open question.
	newConnectionStaleMs = 15000
)
