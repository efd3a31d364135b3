/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manager

import (
	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/quality"
	"github.com/friendsincode/p2pconf/internal/signaling"
	"github.com/friendsincode/p2pconf/internal/telemetry"
)

// Peers implements §4.11's getPeers accessor.
func (m *Manager) Peers() []model.PeerInfo {
	peers := m.peerSnapshot()
	out := make([]model.PeerInfo, 0, len(peers))
	for peerID, entry := range peers {
		out = append(out, model.PeerInfo{
			PeerID:      peerID,
			UserName:    entry.name,
			Platform:    entry.platform,
			IsConnected: entry.connected,
			MuteStatus:  entry.muteStatus,
			ConnectedAt: entry.connectedAt,
		})
	}
	return out
}

// AllPeerMuteStatuses implements §4.11's getAllPeerMuteStatuses accessor.
func (m *Manager) AllPeerMuteStatuses() map[string]model.MuteStatusData {
	peers := m.peerSnapshot()
	out := make(map[string]model.MuteStatusData, len(peers))
	for peerID, entry := range peers {
		out[peerID] = entry.muteStatus
	}
	return out
}

// ConnectionStats computes the §4.8 quality snapshot for every peer,
// implementing debugserver.Facade and §4.11's getConnectionStats.
func (m *Manager) ConnectionStats() []model.ConnectionStats {
	peers := m.peerSnapshot()
	out := make([]model.ConnectionStats, 0, len(peers))
	grades := make(map[model.QualityGrade]int, 4)
	for peerID, entry := range peers {
		snap := quality.FromStatsReport(entry.handle.Stats(), "")
		prev := m.previousStatsFor(peerID)
		stats, next := quality.Compute(peerID, snap, entry.handle.ConnectionState(), prev)
		m.setPreviousStats(peerID, next)
		grades[stats.Quality]++
		out = append(out, stats)
	}
	for _, grade := range []model.QualityGrade{model.QualityExcellent, model.QualityGood, model.QualityFair, model.QualityPoor} {
		telemetry.PeerQualityGauge.WithLabelValues(string(grade)).Set(float64(grades[grade]))
	}
	return out
}

func (m *Manager) previousStatsFor(peerID string) model.PreviousStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previousStats[peerID]
}

func (m *Manager) setPreviousStats(peerID string, stats model.PreviousStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previousStats[peerID] = stats
}

// ModerationState implements §4.11's getModerationState accessor.
func (m *Manager) ModerationState() model.ModerationState {
	return m.controlState.Snapshot()
}

// NetworkStatus implements debugserver.Facade and §4.11's getNetworkStatus.
func (m *Manager) NetworkStatus() model.NetworkStatus {
	m.mu.Lock()
	ns := m.networkSupervisor
	m.mu.Unlock()
	if ns == nil {
		return model.NetworkStatus{IsOnline: true}
	}
	online, wasInRoom, attempts := ns.Status()
	return model.NetworkStatus{IsOnline: online, WasInRoomWhenOffline: wasInRoom, ReconnectAttempts: attempts}
}

// SignalingState implements debugserver.Facade and §4.11's getSignalingState.
func (m *Manager) SignalingState() model.SignalingState {
	return m.signalingStateLocked()
}

func (m *Manager) signalingStateLocked() model.SignalingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.SignalingState{
		InRoom:    m.inRoom,
		RoomID:    m.roomID,
		SessionID: m.sessionID,
		SelfID:    m.selfID,
		PeerCount: len(m.peers),
	}
}

// DebugInfo implements debugserver.Facade and §4.11's getDebugInfo,
// aggregating every other accessor into one payload.
func (m *Manager) DebugInfo() model.DebugInfo {
	m.mu.Lock()
	tr := m.transport
	m.mu.Unlock()

	var brokers []model.BrokerInfo
	if tr != nil {
		brokers = tr.BrokerInfos()
	}

	return model.DebugInfo{
		SelfID:     m.selfID,
		Signaling:  m.SignalingState(),
		Network:    m.NetworkStatus(),
		Peers:      m.Peers(),
		Brokers:    brokers,
		Moderation: m.ModerationState(),
	}
}

// BroadcastMuteStatus implements §4.11's broadcastMuteStatus: records the
// local mute status (which is also sent to each peer shortly after it
// connects) and, if any peer is present, emits it on the rendezvous topic.
func (m *Manager) BroadcastMuteStatus(status model.MuteStatusData) {
	m.mu.Lock()
	m.localMuteStatus = status
	hasPeers := len(m.peers) > 0
	m.mu.Unlock()
	if !hasPeers {
		return
	}
	data, err := signaling.EncodeData(status)
	if err != nil {
		return
	}
	m.send(model.Envelope{Type: model.MessageMuteStatus, Data: data})
}
