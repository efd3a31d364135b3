/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manager

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/peerconn"
)

// peerHandle is the subset of *peerconn.Peer the façade depends on, narrowed
// so tests can substitute a fake without constructing real WebRTC objects —
// the same pattern internal/transport uses for its brokerClient interface.
type peerHandle interface {
	CreateOffer(ctx context.Context, iceRestart bool) (string, error)
	CreateAnswer(ctx context.Context, offerSDP string) (string, error)
	HandleAnswer(answerSDP string) error
	AddICECandidate(candidate webrtc.ICECandidateInit)
	RestartICE()
	State() peerconn.State
	IsStale() bool
	RestartInProgress() bool
	SetRoutingTarget(targetPeerID string)
	ReplaceTrack(track webrtc.TrackLocal) error
	AddTrack(track webrtc.TrackLocal) error
	SendChat(payload []byte) bool
	SendControl(payload []byte) bool
	Stats() webrtc.StatsReport
	ConnectionState() string
	Cleanup()
}

// newPeerFunc constructs a peerHandle, overridable in tests the same way
// transport.New accepts a newClient override.
type newPeerFunc func(factory *peerconn.Factory, id, name string, platform model.Platform, isInitiator bool, localTracks []webrtc.TrackLocal, callbacks peerconn.Callbacks, logger zerolog.Logger) (peerHandle, error)

// defaultNewPeer adapts peerconn.New to newPeerFunc, the constructor used
// outside of tests.
func defaultNewPeer(factory *peerconn.Factory, id, name string, platform model.Platform, isInitiator bool, localTracks []webrtc.TrackLocal, callbacks peerconn.Callbacks, logger zerolog.Logger) (peerHandle, error) {
	return peerconn.New(factory, id, name, platform, isInitiator, localTracks, callbacks, logger)
}
