/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package model

import "encoding/json"

// MessageType enumerates envelope types carried on the rendezvous topic (§4.4).
type MessageType string

const (
	MessageAnnounce     MessageType = "announce"
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
	MessagePing         MessageType = "ping"
	MessagePong         MessageType = "pong"
	MessageLeave        MessageType = "leave"
	MessageMuteStatus   MessageType = "mute-status"
	MessageRoomLocked   MessageType = "room-locked"
)

// Envelope is the JSON wire format used on the rendezvous topic. Fields that
// §3's data model marks optional are omitempty, so an absent field decodes
// to its zero value.
type Envelope struct {
	V         int             `json:"v"`
	Type      MessageType     `json:"type"`
	From      string          `json:"from"`
	To        string          `json:"to,omitempty"`
	SessionID int64           `json:"sessionId,omitempty"`
	MsgID     string          `json:"msgId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	UserName  string          `json:"userName,omitempty"`
	Platform  Platform        `json:"platform,omitempty"`
	TS        int64           `json:"ts,omitempty"`
}

// EnvelopeVersion is the only accepted value of Envelope.V.
const EnvelopeVersion = 1

// AnnounceData is the payload of a MessageAnnounce envelope. userName and
// platform ride on the envelope itself (§4.4), so this type only exists for
// symmetry with the other payloads and is currently empty.
type AnnounceData struct{}

// SDPData carries an SDP session description for offer/answer envelopes.
type SDPData struct {
	SDP      string `json:"sdp"`
	IceRestart bool `json:"iceRestart,omitempty"`
}

// CandidateData carries a single ICE candidate in its JSON form.
type CandidateData struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// MuteStatusData carries the mic/speaker/video/screen-share flags of §4.11's
// broadcastMuteStatus.
type MuteStatusData struct {
	MicMuted        bool `json:"micMuted"`
	SpeakerMuted    bool `json:"speakerMuted"`
	VideoMuted      bool `json:"videoMuted,omitempty"`
	VideoEnabled    bool `json:"videoEnabled,omitempty"`
	IsScreenSharing bool `json:"isScreenSharing,omitempty"`
}

// RoomLockedData is sent in reply to an announce while the room is locked.
type RoomLockedData struct {
	LockedByPeerID string `json:"lockedByPeerId"`
	TS             int64  `json:"ts"`
}
