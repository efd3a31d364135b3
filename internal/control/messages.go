/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package control

import "encoding/json"

// Message type discriminants carried on the "control" data channel. This is
// the whitelist referenced by §4.9: anything else is dropped.
const (
	TypeRMRequest        = "rm_request"
	TypeRMResponse       = "rm_response"
	TypeRMStart          = "rm_start"
	TypeRMHeartbeat      = "rm_heartbeat"
	TypeRMStop           = "rm_stop"
	TypeModRoomLock       = "mod_room_lock"
	TypeModRoomLockNotice = "mod_room_locked_notice"
	TypeModMuteAllReq     = "mod_mute_all_request"
	TypeModMuteAllResp   = "mod_mute_all_response"
	TypeModHandRaise     = "mod_hand_raise"
)

var knownControlTypes = map[string]bool{
	TypeRMRequest:         true,
	TypeRMResponse:        true,
	TypeRMStart:           true,
	TypeRMHeartbeat:       true,
	TypeRMStop:            true,
	TypeModRoomLock:       true,
	TypeModRoomLockNotice: true,
	TypeModMuteAllReq:     true,
	TypeModMuteAllResp:    true,
	TypeModHandRaise:      true,
}

// RMRequest is rm_request(requestId).
type RMRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// RMResponse is rm_response(requestId, accepted, reason).
type RMResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// RMStart is rm_start(requestId).
type RMStart struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// RMHeartbeat is rm_heartbeat(requestId).
type RMHeartbeat struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

// RMStop is rm_stop(requestId, reason).
type RMStop struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// ModRoomLock is mod_room_lock{locked, lockedByPeerId}.
type ModRoomLock struct {
	Type           string `json:"type"`
	Locked         bool   `json:"locked"`
	LockedByPeerID string `json:"lockedByPeerId"`
}

// ModRoomLockedNotice is mod_room_locked_notice{lockedByPeerId}.
type ModRoomLockedNotice struct {
	Type           string `json:"type"`
	LockedByPeerID string `json:"lockedByPeerId"`
}

// ModMuteAllRequest is mod_mute_all_request{requestId, requestedByPeerId, requestedByName}.
type ModMuteAllRequest struct {
	Type              string `json:"type"`
	RequestID         string `json:"requestId"`
	RequestedByPeerID string `json:"requestedByPeerId"`
	RequestedByName   string `json:"requestedByName"`
}

// ModMuteAllResponse is mod_mute_all_response{requestId, accepted}.
type ModMuteAllResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
	Accepted  bool   `json:"accepted"`
}

// ModHandRaise is mod_hand_raise{peerId, raised}.
type ModHandRaise struct {
	Type   string `json:"type"`
	PeerID string `json:"peerId"`
	Raised bool   `json:"raised"`
}

type typeSniff struct {
	Type string `json:"type"`
}

// DecodeControlMessage inspects payload's type discriminant against the
// whitelist and strictly decodes it into the matching typed value. It
// returns (nil, false) for anything malformed, unknown, or mistyped —
// the caller drops these without side effects, per §4.9.
func DecodeControlMessage(payload []byte) (any, bool) {
	var sniff typeSniff
	if err := json.Unmarshal(payload, &sniff); err != nil {
		return nil, false
	}
	if !knownControlTypes[sniff.Type] {
		return nil, false
	}

	var dst any
	switch sniff.Type {
	case TypeRMRequest:
		dst = &RMRequest{}
	case TypeRMResponse:
		dst = &RMResponse{}
	case TypeRMStart:
		dst = &RMStart{}
	case TypeRMHeartbeat:
		dst = &RMHeartbeat{}
	case TypeRMStop:
		dst = &RMStop{}
	case TypeModRoomLock:
		dst = &ModRoomLock{}
	case TypeModRoomLockNotice:
		dst = &ModRoomLockedNotice{}
	case TypeModMuteAllReq:
		dst = &ModMuteAllRequest{}
	case TypeModMuteAllResp:
		dst = &ModMuteAllResponse{}
	case TypeModHandRaise:
		dst = &ModHandRaise{}
	}

	if err := decodeStrict(payload, dst); err != nil {
		return nil, false
	}
	if requestID, ok := extractRequestID(dst); ok && requestID == "" {
		return nil, false
	}
	return dst, true
}

func extractRequestID(v any) (string, bool) {
	switch m := v.(type) {
	case *RMRequest:
		return m.RequestID, true
	case *RMResponse:
		return m.RequestID, true
	case *RMStart:
		return m.RequestID, true
	case *RMHeartbeat:
		return m.RequestID, true
	case *RMStop:
		return m.RequestID, true
	case *ModMuteAllRequest:
		return m.RequestID, true
	case *ModMuteAllResponse:
		return m.RequestID, true
	default:
		return "", false
	}
}

func encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
