/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package quality implements the per-peer connection-quality calculator of
// §4.8: it reduces a pion/webrtc StatsReport plus connection state into a
// rounded ConnectionStats snapshot and an updated PreviousStats baseline.
package quality

import (
	"math"

	"github.com/pion/webrtc/v4"

	"github.com/friendsincode/p2pconf/internal/model"
)

// Snapshot is the subset of a webrtc.StatsReport this calculator reads. It
// is kept separate from webrtc.StatsReport so the pure rounding/grading
// logic can be unit tested with literal fixtures (§8 invariant 5, S6)
// without constructing a real PeerConnection.
type Snapshot struct {
	SelectedCandidatePairID string
	CandidatePairs          map[string]CandidatePairStats
	AudioInbound            *InboundRTPStats
	AudioOutbound           *OutboundRTPStats
}

type CandidatePairStats struct {
	ID                     string
	Nominated              bool
	State                  string
	CurrentRoundTripTime   float64
	TotalRoundTripTime     float64
	ResponsesReceived      uint64
}

type InboundRTPStats struct {
	PacketsReceived uint32
	PacketsLost     uint32
	JitterSeconds   float64
	BytesReceived   uint64
	TimestampSec    float64
}

type OutboundRTPStats struct {
	BytesSent uint64
}

// Compute implements §4.8's rules, returning the rounded stats snapshot and
// the PreviousStats baseline for the next call.
func Compute(peerID string, snap Snapshot, connectionState string, prev model.PreviousStats) (model.ConnectionStats, model.PreviousStats) {
	if connectionState != "connected" {
		return model.ConnectionStats{
			PeerID:          peerID,
			Quality:         model.QualityFair,
			ConnectionState: connectionState,
		}, prev
	}

	pair := selectCandidatePair(snap)

	rttMs := 0.0
	if pair != nil {
		switch {
		case pair.CurrentRoundTripTime > 0:
			rttMs = pair.CurrentRoundTripTime * 1000
		case pair.ResponsesReceived > 0:
			rttMs = pair.TotalRoundTripTime / float64(pair.ResponsesReceived) * 1000
		}
	}

	var (
		packetsReceived uint32
		packetsLost     uint32
		jitterMs        float64
		bytesReceived   uint64
		bytesSent       uint64
		currentTS       float64
	)
	if snap.AudioInbound != nil {
		packetsReceived = snap.AudioInbound.PacketsReceived
		packetsLost = snap.AudioInbound.PacketsLost
		jitterMs = snap.AudioInbound.JitterSeconds * 1000
		bytesReceived = snap.AudioInbound.BytesReceived
		currentTS = snap.AudioInbound.TimestampSec
	}
	if snap.AudioOutbound != nil {
		bytesSent = snap.AudioOutbound.BytesSent
	}

	lossPct := computePacketLoss(packetsReceived, packetsLost, currentTS, prev)

	grade := gradeQuality(rttMs, lossPct, jitterMs)

	stats := model.ConnectionStats{
		PeerID:          peerID,
		RTTMs:           roundToInt(rttMs),
		PacketLossPct:   roundTo2(lossPct),
		JitterMs:        roundToInt(jitterMs),
		BytesReceived:   bytesReceived,
		BytesSent:       bytesSent,
		Quality:         grade,
		ConnectionState: connectionState,
	}

	nextPrev := model.PreviousStats{
		PacketsReceived: packetsReceived,
		PacketsLost:     packetsLost,
		Timestamp:       currentTS,
		Valid:           true,
	}

	return stats, nextPrev
}

// selectCandidatePair applies §4.8's selection order: the transport's
// selectedCandidatePairId first, falling back to any pair that is
// nominated or in the "succeeded" state.
func selectCandidatePair(snap Snapshot) *CandidatePairStats {
	if snap.SelectedCandidatePairID != "" {
		if pair, ok := snap.CandidatePairs[snap.SelectedCandidatePairID]; ok {
			return &pair
		}
	}
	for _, pair := range snap.CandidatePairs {
		if pair.Nominated || pair.State == "succeeded" {
			p := pair
			return &p
		}
	}
	return nil
}

// computePacketLoss applies §4.8's delta-vs-cumulative rule.
func computePacketLoss(received, lost uint32, currentTS float64, prev model.PreviousStats) float64 {
	if prev.Valid && currentTS > prev.Timestamp {
		deltaReceived := diffUint32(received, prev.PacketsReceived)
		deltaLost := diffUint32(lost, prev.PacketsLost)
		denom := deltaReceived + deltaLost
		if denom == 0 {
			return 0
		}
		pct := float64(deltaLost) / float64(denom) * 100
		return clampPercent(pct)
	}

	denom := received + lost
	if denom == 0 {
		return 0
	}
	pct := float64(lost) / float64(denom) * 100
	return clampPercent(pct)
}

func diffUint32(current, previous uint32) uint32 {
	if current < previous {
		return 0
	}
	return current - previous
}

func clampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// gradeQuality implements §4.8's worst-metric-wins thresholds.
func gradeQuality(rttMs, lossPct, jitterMs float64) model.QualityGrade {
	switch {
	case rttMs > 300 || lossPct > 5 || jitterMs > 50:
		return model.QualityPoor
	case rttMs > 200 || lossPct > 2 || jitterMs > 30:
		return model.QualityFair
	case rttMs > 100 || lossPct > 1 || jitterMs > 15:
		return model.QualityGood
	default:
		return model.QualityExcellent
	}
}

func roundToInt(v float64) float64 {
	return math.Round(v)
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FromStatsReport adapts a live pion/webrtc StatsReport into a Snapshot.
// Kept separate from Compute so the grading/rounding logic stays free of
// the webrtc dependency for unit testing.
func FromStatsReport(report webrtc.StatsReport, transportSelectedPairID string) Snapshot {
	snap := Snapshot{
		SelectedCandidatePairID: transportSelectedPairID,
		CandidatePairs:          make(map[string]CandidatePairStats),
	}

	for id, raw := range report {
		switch s := raw.(type) {
		case webrtc.ICECandidatePairStats:
			snap.CandidatePairs[id] = CandidatePairStats{
				ID:                   id,
				Nominated:            s.Nominated,
				State:                string(s.State),
				CurrentRoundTripTime: float64(s.CurrentRoundTripTime),
				TotalRoundTripTime:   float64(s.TotalRoundTripTime),
				ResponsesReceived:    uint64(s.ResponsesReceived),
			}
		case webrtc.InboundRTPStreamStats:
			if string(s.Kind) == "audio" {
				snap.AudioInbound = &InboundRTPStats{
					PacketsReceived: uint32(s.PacketsReceived),
					PacketsLost:     uint32(s.PacketsLost),
					JitterSeconds:   float64(s.Jitter),
					BytesReceived:   uint64(s.BytesReceived),
					TimestampSec:    float64(s.Timestamp),
				}
			}
		case webrtc.OutboundRTPStreamStats:
			if string(s.Kind) == "audio" {
				snap.AudioOutbound = &OutboundRTPStats{BytesSent: uint64(s.BytesSent)}
			}
		case webrtc.TransportStats:
			if snap.SelectedCandidatePairID == "" {
				snap.SelectedCandidatePairID = s.SelectedCandidatePairID
			}
		}
	}

	return snap
}
