/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manager

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/friendsincode/p2pconf/internal/control"
)

// onControlMessage decodes a data-channel control payload and dispatches it
// into control.State, emitting the corresponding observer event (§4.9).
func (m *Manager) onControlMessage(peerID string, payload []byte) {
	msg, ok := control.DecodeControlMessage(payload)
	if !ok {
		return
	}

	switch v := msg.(type) {
	case *control.RMRequest:
		m.handleRMRequest(peerID, v)
	case *control.RMResponse:
		m.handleRMResponse(peerID, v)
	case *control.RMStart:
		m.handleRMStart(peerID, v)
	case *control.RMHeartbeat:
		m.emitRemoteMicEvent(peerID, v.RequestID, "heartbeat", false, "")
	case *control.RMStop:
		m.handleRMStop(peerID, v)
	case *control.ModRoomLock:
		m.controlState.SetRoomLocked(v.Locked, v.LockedByPeerID)
		m.emitModerationEvent(peerID, "room_lock", *v)
	case *control.ModRoomLockedNotice:
		m.emitModerationEvent(peerID, "room_locked_notice", *v)
	case *control.ModMuteAllRequest:
		m.emitModerationEvent(peerID, "mute_all_request", *v)
	case *control.ModMuteAllResponse:
		m.controlState.AckMuteAllResponse(v.RequestID, peerID)
		m.emitModerationEvent(peerID, "mute_all_response", *v)
	case *control.ModHandRaise:
		m.controlState.SetHandRaised(v.PeerID, v.Raised)
		m.emitModerationEvent(peerID, "hand_raise", *v)
	}
}

func (m *Manager) handleRMRequest(peerID string, req *control.RMRequest) {
	m.controlState.RecordIncomingRequest(req.RequestID, peerID)
	m.emitRemoteMicEvent(peerID, req.RequestID, "request", false, "")
}

func (m *Manager) handleRMResponse(peerID string, resp *control.RMResponse) {
	if resp.Accepted {
		if m.controlState.AcceptOutgoing(resp.RequestID, peerID) {
			m.emitRemoteMicEvent(peerID, resp.RequestID, "response", true, resp.Reason)
		}
		return
	}
	if m.controlState.RejectOutgoing(resp.RequestID) {
		m.emitRemoteMicEvent(peerID, resp.RequestID, "response", false, resp.Reason)
	}
}

func (m *Manager) handleRMStart(peerID string, start *control.RMStart) {
	m.controlState.MarkActiveSource(start.RequestID, peerID)
	m.emitRemoteMicEvent(peerID, start.RequestID, "start", true, "")
}

func (m *Manager) handleRMStop(peerID string, stop *control.RMStop) {
	if m.controlState.StopRemoteMic(stop.RequestID) {
		m.SetAudioRoutingMode(routingBroadcast, "")
	}
	m.emitRemoteMicEvent(peerID, stop.RequestID, "stop", false, stop.Reason)
}

func (m *Manager) emitRemoteMicEvent(peerID, requestID, kind string, accepted bool, reason string) {
	if m.observer != nil {
		m.observer.Emit(RemoteMicControlEvent{PeerID: peerID, RequestID: requestID, Kind: kind, Accepted: accepted, Reason: reason})
	}
}

func (m *Manager) emitModerationEvent(peerID, kind string, data any) {
	if m.observer != nil {
		m.observer.Emit(ModerationControlEvent{PeerID: peerID, Kind: kind, Data: data})
	}
}

// --- Control-plane senders (§4.11) ---

// SendChatMessage broadcasts a chat message over every connected peer's chat
// data channel.
func (m *Manager) SendChatMessage(senderName, content string) {
	msg := control.ChatMessage{
		Type:       "chat",
		ID:         uuid.NewString(),
		SenderName: senderName,
		Content:    content,
		Timestamp:  timeNowRFC3339(),
	}
	payload, err := control.EncodeChatMessage(msg)
	if err != nil {
		return
	}
	for _, entry := range m.peerSnapshot() {
		entry.handle.SendChat(payload)
	}
}

// SendRemoteMicRequest asks targetPeerID to grant remote-mic access and
// returns the generated request id.
func (m *Manager) SendRemoteMicRequest(targetPeerID string) string {
	requestID := uuid.NewString()
	m.controlState.SetPendingOutgoing(requestID)
	m.sendControlTo(targetPeerID, mustMarshalControl(control.RMRequest{
		Type: control.TypeRMRequest, RequestID: requestID,
	}))
	return requestID
}

// SendRemoteMicResponse accepts or rejects an incoming remote-mic request.
func (m *Manager) SendRemoteMicResponse(requestID string, accept bool, reason string) {
	peerID, ok := m.controlState.ResolveIncomingRequest(requestID)
	if !ok {
		return
	}
	m.sendControlTo(peerID, mustMarshalControl(control.RMResponse{
		Type: control.TypeRMResponse, RequestID: requestID, Accepted: accept, Reason: reason,
	}))
}

// SendRemoteMicStart notifies the peer who granted access that remote audio
// has started flowing.
func (m *Manager) SendRemoteMicStart(requestID string) {
	target := m.controlState.ActiveTargetPeer()
	if target == "" {
		return
	}
	m.sendControlTo(target, mustMarshalControl(control.RMStart{
		Type: control.TypeRMStart, RequestID: requestID,
	}))
}

// SendRemoteMicStop ends an active remote-mic session from either side and
// restores broadcast audio routing.
func (m *Manager) SendRemoteMicStop(requestID, reason string) {
	target := m.controlState.ActiveTargetPeer()
	source := m.controlState.ActiveSourcePeer()
	if m.controlState.StopRemoteMic(requestID) {
		m.SetAudioRoutingMode(routingBroadcast, "")
	}
	payload := mustMarshalControl(control.RMStop{Type: control.TypeRMStop, RequestID: requestID, Reason: reason})
	if target != "" {
		m.sendControlTo(target, payload)
	}
	if source != "" {
		m.sendControlTo(source, payload)
	}
}

// SetRoomLocked applies a local room-lock change and notifies every peer.
func (m *Manager) SetRoomLocked(locked bool) {
	m.controlState.SetRoomLocked(locked, m.selfID)
	payload := mustMarshalControl(control.ModRoomLock{
		Type: control.TypeModRoomLock, Locked: locked, LockedByPeerID: m.selfID,
	})
	for _, entry := range m.peerSnapshot() {
		entry.handle.SendControl(payload)
	}
}

// BroadcastMuteAllRequest asks every connected peer to mute and returns the
// request id used to track their acknowledgements.
func (m *Manager) BroadcastMuteAllRequest(requestedByName string) string {
	requestID := uuid.NewString()
	peers := m.peerSnapshot()
	targets := make([]string, 0, len(peers))
	for peerID := range peers {
		targets = append(targets, peerID)
	}
	m.controlState.TrackMuteAllRequest(requestID, targets)

	payload := mustMarshalControl(control.ModMuteAllRequest{
		Type: control.TypeModMuteAllReq, RequestID: requestID,
		RequestedByPeerID: m.selfID, RequestedByName: requestedByName,
	})
	for _, entry := range peers {
		entry.handle.SendControl(payload)
	}
	return requestID
}

// SetLocalHandRaised raises or lowers the local participant's hand and
// notifies every peer.
func (m *Manager) SetLocalHandRaised(raised bool) {
	m.controlState.SetLocalHandRaised(raised)
	payload := mustMarshalControl(control.ModHandRaise{
		Type: control.TypeModHandRaise, PeerID: m.selfID, Raised: raised,
	})
	for _, entry := range m.peerSnapshot() {
		entry.handle.SendControl(payload)
	}
}

func mustMarshalControl(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return payload
}
