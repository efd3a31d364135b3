/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package peerconn implements the per-peer WebRTC state machine of §4.5:
// offer/answer/ICE-candidate handling, ICE restart with bounded retry, the
// two control data channels, and cleanup.
package peerconn

import (
	"fmt"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
)

// Factory builds Peer instances sharing one pion MediaEngine/interceptor
// registry and ICE server configuration, grounded on the teacher's
// Broadcaster.NewBroadcaster Opus codec + interceptor registration.
type Factory struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	staleAfter time.Duration
	logger     zerolog.Logger
}

// NewFactory registers the Opus codec and default interceptors, matching
// the teacher's media engine setup.
func NewFactory(iceServers []model.ICEServer, logger zerolog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i))

	return &Factory{
		api:        api,
		iceServers: toWebRTCICEServers(iceServers),
		staleAfter: newConnectionStaleMs * time.Millisecond,
		logger:     logger.With().Str("component", "peerconn").Logger(),
	}, nil
}

// SetNewConnectionStale overrides the age beyond which a still-new peer is
// considered stale and replaceable (§9 leaves the 15s default tunable per
// deployment). Zero keeps the default.
func (f *Factory) SetNewConnectionStale(d time.Duration) {
	if d > 0 {
		f.staleAfter = d
	}
}

func toWebRTCICEServers(servers []model.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			ice.Username = s.Username
			ice.Credential = s.Credential
			ice.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, ice)
	}
	return out
}

func (f *Factory) newPeerConnection() (*webrtc.PeerConnection, error) {
	return f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.iceServers})
}
