/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manager

import (
	"context"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/peerconn"
	"github.com/friendsincode/p2pconf/internal/signaling"
	"github.com/friendsincode/p2pconf/internal/telemetry"
)

// offerAnswerTimeout bounds how long SDP generation may take before a
// handshake attempt is abandoned (the peer is cleaned up and a later
// announce cycle retries).
const offerAnswerTimeout = 10 * time.Second

// sessionMatches implements §4.6's "offer/answer/ICE for a session whose
// sessionId does not match the current one are ignored" rule. An absent
// sessionId (zero value, e.g. a peer still on an older wire shape) is
// treated as matching rather than dropped.
func (m *Manager) sessionMatches(env model.Envelope) bool {
	if env.SessionID == 0 {
		return true
	}
	m.mu.Lock()
	current := m.sessionID
	m.mu.Unlock()
	return env.SessionID == current
}

// shouldReplacePeer implements §4.5's existing-peer-kept rule: a peer is
// kept if connected, connecting, or new-and-fresh, or mid ICE-restart;
// otherwise it is stale and must be torn down before a fresh one replaces it.
func (m *Manager) shouldReplacePeer(entry *peerEntry) bool {
	switch entry.handle.State() {
	case peerconn.StateConnected, peerconn.StateConnecting, peerconn.StateOffering, peerconn.StateAnswering:
		return false
	case peerconn.StateNone:
		return entry.handle.IsStale()
	case peerconn.StateRestarting:
		return !entry.handle.RestartInProgress()
	default:
		return true
	}
}

// handleAnnounce implements §4.5's tiebreaker: a locked room rejects unknown
// peers, a stale existing peer is replaced, and otherwise the lexicographic
// comparison of self/remote ids decides who offers and who waits.
func (m *Manager) handleAnnounce(env model.Envelope) {
	peerID := env.From

	locked, owner := m.controlState.RoomLocked()
	m.mu.Lock()
	_, known := m.peers[peerID]
	m.mu.Unlock()

	if locked && !known {
		data, err := signaling.EncodeData(model.RoomLockedData{LockedByPeerID: owner, TS: time.Now().UnixMilli()})
		if err != nil {
			return
		}
		m.send(model.Envelope{Type: model.MessageRoomLocked, To: peerID, Data: data})
		return
	}

	if known {
		m.mu.Lock()
		entry := m.peers[peerID]
		m.mu.Unlock()
		if !m.shouldReplacePeer(entry) {
			return
		}
		entry.handle.Cleanup()
	}

	if m.selfID > peerID {
		m.initiateOffer(peerID, env.UserName, env.Platform)
		return
	}

	m.mu.Lock()
	userName := m.userName
	platform := m.platform
	m.mu.Unlock()
	m.send(model.Envelope{Type: model.MessageAnnounce, To: peerID, UserName: userName, Platform: platform})
}

func (m *Manager) initiateOffer(peerID, userName string, platform model.Platform) {
	handle, err := m.createPeer(peerID, userName, platform, true)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer_id", peerID).Msg("failed to create initiator peer")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), offerAnswerTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "manager", "createOffer")
	defer span.End()
	sdp, err := handle.CreateOffer(ctx, false)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer_id", peerID).Msg("create offer failed")
		m.cleanupPeer(peerID)
		return
	}

	data, err := signaling.EncodeData(model.SDPData{SDP: sdp})
	if err != nil {
		return
	}
	m.send(model.Envelope{Type: model.MessageOffer, To: peerID, Data: data})
}

// handleOffer always discards any existing peer for that id first (§4.6),
// constructs a responder, answers, and replies.
func (m *Manager) handleOffer(env model.Envelope) {
	if !m.sessionMatches(env) {
		return
	}
	peerID := env.From

	var sdpData model.SDPData
	if err := signaling.DecodeData(env.Data, &sdpData); err != nil {
		return
	}

	m.mu.Lock()
	existing, ok := m.peers[peerID]
	m.mu.Unlock()
	if ok {
		existing.handle.Cleanup()
	}

	handle, err := m.createPeer(peerID, env.UserName, env.Platform, false)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer_id", peerID).Msg("failed to create responder peer")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), offerAnswerTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "manager", "handleOffer")
	defer span.End()
	answerSDP, err := handle.CreateAnswer(ctx, sdpData.SDP)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer_id", peerID).Msg("create answer failed")
		m.cleanupPeer(peerID)
		return
	}

	data, err := signaling.EncodeData(model.SDPData{SDP: answerSDP})
	if err != nil {
		return
	}
	m.send(model.Envelope{Type: model.MessageAnswer, To: peerID, Data: data})
}

func (m *Manager) handleAnswer(env model.Envelope) {
	if !m.sessionMatches(env) {
		return
	}
	peerID := env.From

	m.mu.Lock()
	entry, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		return
	}

	var sdpData model.SDPData
	if err := signaling.DecodeData(env.Data, &sdpData); err != nil {
		return
	}
	_, span := telemetry.StartSpan(context.Background(), "manager", "handleAnswer")
	defer span.End()
	if err := entry.handle.HandleAnswer(sdpData.SDP); err != nil {
		telemetry.RecordError(span, err)
		m.logger.Warn().Err(err).Str("peer_id", peerID).Msg("handle answer failed")
	}
}

// handleICECandidate buffers candidates for a peer that does not exist yet
// (§4.5: "candidates for unknown peers are also buffered under that
// peerId"), flushed once createPeer runs for that id.
func (m *Manager) handleICECandidate(env model.Envelope) {
	if !m.sessionMatches(env) {
		return
	}
	peerID := env.From

	var candData model.CandidateData
	if err := signaling.DecodeData(env.Data, &candData); err != nil {
		return
	}
	candidate := webrtc.ICECandidateInit{
		Candidate:     candData.Candidate,
		SDPMid:        candData.SDPMid,
		SDPMLineIndex: candData.SDPMLineIndex,
	}

	m.mu.Lock()
	entry, ok := m.peers[peerID]
	if !ok {
		m.pendingCandidates[peerID] = append(m.pendingCandidates[peerID], candidate)
	}
	m.mu.Unlock()

	if ok {
		entry.handle.AddICECandidate(candidate)
	}
}

// handleLeave cleans the departing peer immediately (§4.6).
func (m *Manager) handleLeave(env model.Envelope) {
	m.cleanupPeer(env.From)
}

func (m *Manager) handleMuteStatus(env model.Envelope) {
	var status model.MuteStatusData
	if err := signaling.DecodeData(env.Data, &status); err != nil {
		return
	}
	peerID := env.From

	m.mu.Lock()
	if entry, ok := m.peers[peerID]; ok {
		entry.muteStatus = status
	}
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.Emit(MuteStatusEvent{PeerID: peerID, Status: status})
	}
}

// handleRoomLocked surfaces the rejection a locked room sent back to our own
// announce as a moderation event; there is no local peer to manage here.
func (m *Manager) handleRoomLocked(env model.Envelope) {
	var data model.RoomLockedData
	if err := signaling.DecodeData(env.Data, &data); err != nil {
		return
	}
	if m.observer != nil {
		m.observer.Emit(ModerationControlEvent{PeerID: env.From, Kind: "room_locked_notice", Data: data})
	}
}

func (m *Manager) handleLiveness(peerID string) {
	m.mu.Lock()
	hb := m.heartbeatMonitor
	m.mu.Unlock()
	if hb != nil {
		hb.RecordActivity(peerID)
	}
}
