/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package manager implements §4.11's manager façade: the single entry point
// that aggregates credentials, the broker transport, signaling, per-peer
// lifecycle, heartbeat, the control plane, and the network supervisor into
// join/leave/broadcast operations and a typed event callback surface.
package manager

import (
	"github.com/pion/webrtc/v4"

	"github.com/friendsincode/p2pconf/internal/control"
	"github.com/friendsincode/p2pconf/internal/model"
)

// Observer receives every event the façade emits. §9 calls for "a small
// observer interface with typed variants per event ... rather than dynamic
// dispatch"; Event is a closed sum type and Emit is the single dispatch
// point, matching that guidance without resorting to N separate callback
// fields.
type Observer interface {
	Emit(Event)
}

// Event is implemented by every concrete event type below. The sealed
// eventKind method keeps the set closed to this package.
type Event interface {
	eventKind() string
}

// PeerJoinEvent fires when a peer's connection reaches "connected".
type PeerJoinEvent struct {
	PeerID   string
	UserName string
	Platform model.Platform
}

func (PeerJoinEvent) eventKind() string { return "peer_join" }

// PeerLeaveEvent fires from Cleanup, regardless of why the peer was removed.
type PeerLeaveEvent struct {
	PeerID   string
	UserName string
	Platform model.Platform
}

func (PeerLeaveEvent) eventKind() string { return "peer_leave" }

// RemoteStreamEvent fires whenever a peer's OnTrack callback adopts or
// synthesizes a remote stream.
type RemoteStreamEvent struct {
	PeerID string
	Track  *webrtc.TrackRemote
}

func (RemoteStreamEvent) eventKind() string { return "remote_stream" }

// MuteStatusEvent fires on an inbound mute-status envelope.
type MuteStatusEvent struct {
	PeerID string
	Status model.MuteStatusData
}

func (MuteStatusEvent) eventKind() string { return "mute_status" }

// ErrorEvent surfaces the §7 error kinds: mqtt-connection, network-reconnect,
// credentials, ice-restart, subscribe, publish.
type ErrorEvent struct {
	Kind    string
	Context string
}

func (ErrorEvent) eventKind() string { return "error" }

// SignalingStateChangeEvent fires whenever the façade's getSignalingState
// snapshot would change (room join/leave, peer count change).
type SignalingStateChangeEvent struct {
	State model.SignalingState
}

func (SignalingStateChangeEvent) eventKind() string { return "signaling_state_change" }

// NetworkStatusChangeEvent fires on every online/offline transition.
type NetworkStatusChangeEvent struct {
	IsOnline bool
}

func (NetworkStatusChangeEvent) eventKind() string { return "network_status_change" }

// ChatEvent fires when a peer's chat data channel delivers a valid message.
type ChatEvent struct {
	PeerID  string
	Message control.ChatMessage
}

func (ChatEvent) eventKind() string { return "chat" }

// RemoteMicControlEvent fires for every remote-mic control-plane transition,
// real or synthetic (peer-disconnect-triggered stop).
type RemoteMicControlEvent struct {
	PeerID    string
	RequestID string
	Kind      string // "request", "response", "start", "heartbeat", "stop"
	Accepted  bool
	Reason    string
}

func (RemoteMicControlEvent) eventKind() string { return "remote_mic_control" }

// ModerationControlEvent fires for every moderation control-plane
// transition: room-lock changes, mute-all requests/responses, hand raises,
// and the synthetic unlock/hand-lower produced by a peer disconnect.
type ModerationControlEvent struct {
	PeerID string
	Kind   string // "room_lock", "room_locked_notice", "mute_all_request", "mute_all_response", "hand_raise"; synthetic: "room-unlocked", "hand-lowered"
	Data   any
}

func (ModerationControlEvent) eventKind() string { return "moderation_control" }
