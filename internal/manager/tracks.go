/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manager

import (
	"github.com/pion/webrtc/v4"
)

// SetLocalStream implements §4.11's setLocalStream: diffs the new track set
// against what was last applied, skipping unchanged ids and replacing or
// adding the rest on every connected peer.
func (m *Manager) SetLocalStream(tracks []webrtc.TrackLocal) {
	m.mu.Lock()
	previous := m.localTracks
	m.localTracks = append([]webrtc.TrackLocal(nil), tracks...)
	mode, target := m.routingMode, m.routingTarget
	m.mu.Unlock()

	prevByID := make(map[string]bool, len(previous))
	for _, t := range previous {
		prevByID[t.ID()] = true
	}

	peers := m.peerSnapshot()
	for _, newTrack := range tracks {
		if prevByID[newTrack.ID()] {
			continue
		}
		for _, entry := range peers {
			if err := entry.handle.ReplaceTrack(newTrack); err != nil {
				m.logger.Warn().Err(err).Msg("failed to apply local track to peer")
			}
		}
	}

	m.applyRoutingMode(mode, target)
}

// ReplaceTrack applies §4.9's diff rule for a single track across every peer:
// a sender of matching kind is replaced in place, otherwise a new sender is
// added (peerconn.Peer.ReplaceTrack already implements that fallback).
func (m *Manager) ReplaceTrack(track webrtc.TrackLocal) {
	for _, entry := range m.peerSnapshot() {
		if err := entry.handle.ReplaceTrack(track); err != nil {
			m.logger.Warn().Err(err).Msg("failed to replace track on peer")
		}
	}
	m.mu.Lock()
	mode, target := m.routingMode, m.routingTarget
	m.mu.Unlock()
	m.applyRoutingMode(mode, target)
}

// SetAudioRoutingMode implements §4.9's broadcast/exclusive audio routing
// policy: in exclusive mode only targetPeerID keeps the live audio track,
// every other peer has it replaced with nil (silence, no renegotiation).
func (m *Manager) SetAudioRoutingMode(mode, targetPeerID string) {
	m.mu.Lock()
	m.routingMode = mode
	m.routingTarget = targetPeerID
	m.mu.Unlock()
	m.applyRoutingMode(mode, targetPeerID)
}

func (m *Manager) applyRoutingMode(mode, targetPeerID string) {
	m.mu.Lock()
	tracks := append([]webrtc.TrackLocal(nil), m.localTracks...)
	m.mu.Unlock()

	var audioTrack webrtc.TrackLocal
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeAudio {
			audioTrack = t
			break
		}
	}

	for peerID, entry := range m.peerSnapshot() {
		if mode != routingExclusive {
			entry.handle.SetRoutingTarget("")
			if audioTrack != nil {
				_ = entry.handle.ReplaceTrack(audioTrack)
			}
			continue
		}

		entry.handle.SetRoutingTarget(targetPeerID)
		if peerID == targetPeerID {
			if audioTrack != nil {
				_ = entry.handle.ReplaceTrack(audioTrack)
			}
			continue
		}
		_ = entry.handle.ReplaceTrack(nil)
	}
}
