/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package peerconn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/telemetry"
)

// ErrUnknownPeer is returned by operations addressed to a peer id the
// caller has no record of.
var ErrUnknownPeer = errors.New("peerconn: unknown peer")

// Callbacks carries every side effect a Peer can trigger back into its
// owner (the conference manager). Callbacks receive only the peer id, per
// §9's guidance to break the manager/PeerConn reference cycle with a weak
// id-based back-reference rather than a direct pointer.
type Callbacks struct {
	EmitICECandidate func(peerID string, candidate webrtc.ICECandidateInit)
	EmitOffer        func(peerID string, sdp string, iceRestart bool)
	EmitAnswer       func(peerID string, sdp string)
	OnPeerJoin       func(peerID string)
	OnPeerLeave      func(peerID string)
	OnRemoteStream   func(peerID string, track *webrtc.TrackRemote)
	OnConnected      func(peerID string) // drives the 500/600/800ms delayed sends
	OnCleanup        func(peerID string)
	OnChatMessage    func(peerID string, payload []byte)
	OnControlMessage func(peerID string, payload []byte)
}

// Peer is one remote participant's WebRTC state machine (§4.5).
type Peer struct {
	ID          string
	Name        string
	Platform    model.Platform
	IsInitiator bool
	CreatedAt   time.Time

	factory   *Factory
	pc        *webrtc.PeerConnection
	callbacks Callbacks
	logger    zerolog.Logger

	mu                 sync.Mutex
	state              State
	chatChannel        *webrtc.DataChannel
	controlChannel     *webrtc.DataChannel
	pendingCandidates  []webrtc.ICECandidateInit
	remoteDescSet      bool
	iceRestartAttempts int
	restartInProgress  bool
	disconnectGrace    *time.Timer
	restartWatchdog    *time.Timer
	routingTargetPeer  string // "" = broadcast, else exclusive target
}

// New constructs a Peer, attaches localTracks, and — if isInitiator —
// opens the chat/control data channels (§4.5 step 1-3).
func New(factory *Factory, id, name string, platform model.Platform, isInitiator bool, localTracks []webrtc.TrackLocal, callbacks Callbacks, logger zerolog.Logger) (*Peer, error) {
	pc, err := factory.newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection for %s: %w", id, err)
	}

	p := &Peer{
		ID:          id,
		Name:        name,
		Platform:    platform,
		IsInitiator: isInitiator,
		CreatedAt:   time.Now(),
		factory:     factory,
		pc:          pc,
		callbacks:   callbacks,
		logger:      logger.With().Str("component", "peerconn").Str("peer_id", id).Logger(),
		state:       StateNone,
	}

	for _, track := range localTracks {
		if _, err := pc.AddTrack(track); err != nil {
			p.logger.Warn().Err(err).Msg("failed to attach local track")
		}
	}

	if isInitiator {
		chat, err := pc.CreateDataChannel("chat", nil)
		if err != nil {
			return nil, fmt.Errorf("create chat data channel: %w", err)
		}
		control, err := pc.CreateDataChannel("control", nil)
		if err != nil {
			return nil, fmt.Errorf("create control data channel: %w", err)
		}
		p.bindChatChannel(chat)
		p.bindControlChannel(control)
	} else {
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			switch dc.Label() {
			case "chat":
				p.bindChatChannel(dc)
			case "control":
				p.bindControlChannel(dc)
			}
		})
	}

	p.registerCallbacks()
	return p, nil
}

func (p *Peer) bindChatChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.chatChannel = dc
	p.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.callbacks.OnChatMessage != nil {
			p.callbacks.OnChatMessage(p.ID, msg.Data)
		}
	})
}

func (p *Peer) bindControlChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.controlChannel = dc
	p.mu.Unlock()
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.callbacks.OnControlMessage != nil {
			p.callbacks.OnControlMessage(p.ID, msg.Data)
		}
	})
}

func (p *Peer) registerCallbacks() {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if p.callbacks.EmitICECandidate != nil {
			p.callbacks.EmitICECandidate(p.ID, c.ToJSON())
		}
	})

	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			p.clearICETimers()
			p.mu.Lock()
			p.iceRestartAttempts = 0
			p.restartInProgress = false
			p.mu.Unlock()
		case webrtc.ICEConnectionStateFailed:
			p.RestartICE()
		case webrtc.ICEConnectionStateDisconnected:
			p.armDisconnectGrace()
		}
	})

	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			p.setState(StateConnected)
			if p.callbacks.OnPeerJoin != nil {
				p.callbacks.OnPeerJoin(p.ID)
			}
			if p.callbacks.OnConnected != nil {
				p.callbacks.OnConnected(p.ID)
			}
		case webrtc.PeerConnectionStateDisconnected:
			p.logger.Debug().Msg("peer connection state disconnected; relying on ICE to recover")
		case webrtc.PeerConnectionStateFailed:
			p.mu.Lock()
			inProgress := p.restartInProgress
			p.mu.Unlock()
			if !inProgress {
				p.Cleanup()
			}
		case webrtc.PeerConnectionStateClosed:
			p.mu.Lock()
			wasConnected := p.state == StateConnected
			p.mu.Unlock()
			if wasConnected {
				p.Cleanup()
			}
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if p.callbacks.OnRemoteStream != nil {
			p.callbacks.OnRemoteStream(p.ID, track)
		}
	})
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the peer's current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsStale reports whether a peer still in StateNone has aged past the
// factory's new-connection staleness window, per the §4.5 tiebreaker
// "existing peer kept" rule.
func (p *Peer) IsStale() bool {
	p.mu.Lock()
	s := p.state
	p.mu.Unlock()
	return s == StateNone && time.Since(p.CreatedAt) >= p.factory.staleAfter
}

// RestartInProgress reports whether an ICE restart is currently underway.
func (p *Peer) RestartInProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restartInProgress
}

// CreateOffer creates and applies a local offer, tunes its Opus params, and
// waits for ICE gathering to complete (§4.5 step 3, §4.5.1 for restarts).
func (p *Peer) CreateOffer(ctx context.Context, iceRestart bool) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(p.pc)

	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	offer.SDP = ConfigureOpusSDP(offer.SDP)

	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	p.setState(StateOffering)
	return p.pc.LocalDescription().SDP, nil
}

// CreateAnswer discards any previous remote description, applies offerSDP,
// flushes pending candidates, and returns a tuned local answer SDP
// (§4.5's handleOffer).
func (p *Peer) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	p.markRemoteDescSet()
	p.FlushPendingCandidates()

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	answer.SDP = ConfigureOpusSDP(answer.SDP)

	if err := p.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	p.setState(StateAnswering)
	return p.pc.LocalDescription().SDP, nil
}

// HandleAnswer applies a remote answer and flushes any pending ICE
// candidates (§4.5's handleAnswer).
func (p *Peer) HandleAnswer(answerSDP string) error {
	if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	p.markRemoteDescSet()
	p.FlushPendingCandidates()
	p.setState(StateConnecting)
	return nil
}

func (p *Peer) markRemoteDescSet() {
	p.mu.Lock()
	p.remoteDescSet = true
	p.mu.Unlock()
}

// AddICECandidate adds the candidate immediately if the remote description
// is already set, otherwise buffers it for a later flush (§4.5's
// handleIceCandidate).
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) {
	p.mu.Lock()
	ready := p.remoteDescSet
	if !ready {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
	}
	p.mu.Unlock()

	if ready {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.logger.Debug().Err(err).Msg("failed to add ICE candidate")
		}
	}
}

// FlushPendingCandidates drains the pending buffer, logging and swallowing
// individual failures (§4.5).
func (p *Peer) FlushPendingCandidates() {
	p.mu.Lock()
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			p.logger.Debug().Err(err).Msg("failed to add buffered ICE candidate")
		}
	}
}

// RestartICE implements §4.5.1: bounded-attempt ICE restart with a 15s
// watchdog and exponential retry backoff on synchronous failure.
func (p *Peer) RestartICE() {
	p.mu.Lock()
	if p.restartInProgress || p.iceRestartAttempts >= maxICERestartAttempts {
		p.mu.Unlock()
		return
	}
	p.iceRestartAttempts++
	attempt := p.iceRestartAttempts
	p.restartInProgress = true
	p.state = StateRestarting
	p.mu.Unlock()

	telemetry.ICERestartAttemptsTotal.Inc()
	p.armRestartWatchdog()

	ctx, cancel := context.WithTimeout(context.Background(), iceRestartWatchdogSec*time.Second)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "peerconn", "restartIce")
	defer span.End()

	sdp, err := p.CreateOffer(ctx, true)
	if err != nil {
		p.logger.Warn().Err(err).Int("attempt", attempt).Msg("ice restart offer failed")
		if attempt < maxICERestartAttempts {
			delay := time.Duration(1000*(1<<uint(attempt-1))) * time.Millisecond
			time.AfterFunc(delay, func() {
				p.mu.Lock()
				p.restartInProgress = false
				p.mu.Unlock()
				p.RestartICE()
			})
			return
		}
		p.Cleanup()
		return
	}

	if p.callbacks.EmitOffer != nil {
		p.callbacks.EmitOffer(p.ID, sdp, true)
	}
}

func (p *Peer) armDisconnectGrace() {
	p.mu.Lock()
	if p.disconnectGrace != nil {
		p.mu.Unlock()
		return
	}
	p.disconnectGrace = time.AfterFunc(disconnectGraceDelay*time.Second, func() {
		if p.pc.ICEConnectionState() == webrtc.ICEConnectionStateDisconnected {
			p.RestartICE()
		}
		p.mu.Lock()
		p.disconnectGrace = nil
		p.mu.Unlock()
	})
	p.mu.Unlock()
}

func (p *Peer) armRestartWatchdog() {
	p.mu.Lock()
	if p.restartWatchdog != nil {
		p.restartWatchdog.Stop()
	}
	p.restartWatchdog = time.AfterFunc(iceRestartWatchdogSec*time.Second, func() {
		p.mu.Lock()
		stillInProgress := p.restartInProgress
		p.mu.Unlock()
		if stillInProgress {
			p.Cleanup()
		}
	})
	p.mu.Unlock()
}

func (p *Peer) clearICETimers() {
	p.mu.Lock()
	if p.disconnectGrace != nil {
		p.disconnectGrace.Stop()
		p.disconnectGrace = nil
	}
	if p.restartWatchdog != nil {
		p.restartWatchdog.Stop()
		p.restartWatchdog = nil
	}
	p.mu.Unlock()
}

// Cleanup implements §4.5.2: closes both data channels and the media
// engine handle, clears timers, and invokes the leave/cleanup callbacks.
func (p *Peer) Cleanup() {
	p.mu.Lock()
	if p.state == StateRemoved {
		p.mu.Unlock()
		return
	}
	p.state = StateRemoved
	chat, control := p.chatChannel, p.controlChannel
	p.mu.Unlock()

	p.clearICETimers()

	if chat != nil {
		if err := chat.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("error closing chat channel")
		}
	}
	if control != nil {
		if err := control.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("error closing control channel")
		}
	}
	if err := p.pc.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("error closing peer connection")
	}

	if p.callbacks.OnPeerLeave != nil {
		p.callbacks.OnPeerLeave(p.ID)
	}
	if p.callbacks.OnCleanup != nil {
		p.callbacks.OnCleanup(p.ID)
	}
}

// SetRoutingTarget records the audio-routing mode of §4.9: "" is broadcast
// mode, a non-empty peer id is exclusive mode for that peer. It does not
// touch any sender; the façade applies the mode through ReplaceTrack.
func (p *Peer) SetRoutingTarget(targetPeerID string) {
	p.mu.Lock()
	p.routingTargetPeer = targetPeerID
	p.mu.Unlock()
}

// AddTrack attaches a new local track to this peer's connection, used by
// the façade's setLocalStream/replaceTrack diff (§4.11) when no existing
// sender of the same kind can be reused via ReplaceTrack.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

// ReplaceTrack implements §4.9's sender-matching rule: match by kind first,
// then by codec family, otherwise add a new track.
func (p *Peer) ReplaceTrack(track webrtc.TrackLocal) error {
	senders := p.pc.GetSenders()

	if track == nil {
		for _, s := range senders {
			if s.Track() != nil && s.Track().Kind() == webrtc.RTPCodecTypeAudio {
				return s.ReplaceTrack(nil)
			}
		}
		return nil
	}

	for _, s := range senders {
		if s.Track() != nil && s.Track().Kind() == track.Kind() {
			return s.ReplaceTrack(track)
		}
	}

	family := track.Kind().String() + "/"
	for _, s := range senders {
		for _, c := range s.GetParameters().Codecs {
			if strings.HasPrefix(strings.ToLower(c.MimeType), family) {
				return s.ReplaceTrack(track)
			}
		}
	}

	_, err := p.pc.AddTrack(track)
	return err
}

// Stats returns the underlying peer connection's raw stats report, the
// input to the connection-quality calculator (§4.8).
func (p *Peer) Stats() webrtc.StatsReport {
	return p.pc.GetStats()
}

// ConnectionState returns the pion connection state as the lowercase string
// the quality calculator and façade accessors key off of ("connected",
// "disconnected", "failed", "closed", ...).
func (p *Peer) ConnectionState() string {
	return p.pc.ConnectionState().String()
}

// SendChat sends a chat payload on the chat data channel.
func (p *Peer) SendChat(payload []byte) bool {
	p.mu.Lock()
	dc := p.chatChannel
	p.mu.Unlock()
	if dc == nil {
		return false
	}
	return dc.Send(payload) == nil
}

// SendControl sends a control-plane payload on the control data channel.
func (p *Peer) SendControl(payload []byte) bool {
	p.mu.Lock()
	dc := p.controlChannel
	p.mu.Unlock()
	if dc == nil {
		return false
	}
	return dc.Send(payload) == nil
}
