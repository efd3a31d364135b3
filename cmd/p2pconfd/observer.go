/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/manager"
	"github.com/friendsincode/p2pconf/internal/telemetry"
)

// logObserver renders every manager.Event as a structured log line and
// updates the process-wide Prometheus gauges that have no other natural
// call site (active peer count, per-grade quality histogram).
type logObserver struct {
	logger zerolog.Logger
}

func newLogObserver(logger zerolog.Logger) *logObserver {
	return &logObserver{logger: logger.With().Str("component", "observer").Logger()}
}

func (o *logObserver) Emit(evt manager.Event) {
	switch e := evt.(type) {
	case manager.PeerJoinEvent:
		o.logger.Info().Str("peer_id", e.PeerID).Str("user_name", e.UserName).Str("platform", string(e.Platform)).Msg("peer joined")
	case manager.PeerLeaveEvent:
		o.logger.Info().Str("peer_id", e.PeerID).Str("user_name", e.UserName).Msg("peer left")
	case manager.RemoteStreamEvent:
		o.logger.Debug().Str("peer_id", e.PeerID).Msg("remote stream received")
	case manager.MuteStatusEvent:
		o.logger.Debug().Str("peer_id", e.PeerID).Bool("mic_muted", e.Status.MicMuted).Bool("video_muted", e.Status.VideoMuted).Msg("mute status changed")
	case manager.ErrorEvent:
		o.logger.Warn().Str("kind", e.Kind).Str("context", e.Context).Msg("engine error")
	case manager.SignalingStateChangeEvent:
		telemetry.ActivePeersGauge.Set(float64(e.State.PeerCount))
		o.logger.Debug().Int("peer_count", e.State.PeerCount).Bool("in_room", e.State.InRoom).Msg("signaling state changed")
	case manager.NetworkStatusChangeEvent:
		o.logger.Info().Bool("online", e.IsOnline).Msg("network status changed")
	case manager.ChatEvent:
		o.logger.Debug().Str("peer_id", e.PeerID).Str("sender", e.Message.SenderName).Msg("chat message received")
	case manager.RemoteMicControlEvent:
		o.logger.Info().Str("peer_id", e.PeerID).Str("request_id", e.RequestID).Str("kind", e.Kind).Bool("accepted", e.Accepted).Msg("remote mic control")
	case manager.ModerationControlEvent:
		o.logger.Info().Str("peer_id", e.PeerID).Str("kind", e.Kind).Msg("moderation control")
	}
}
