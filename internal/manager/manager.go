/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/config"
	"github.com/friendsincode/p2pconf/internal/control"
	"github.com/friendsincode/p2pconf/internal/credentials"
	"github.com/friendsincode/p2pconf/internal/heartbeat"
	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/multicast"
	"github.com/friendsincode/p2pconf/internal/network"
	"github.com/friendsincode/p2pconf/internal/peerconn"
	"github.com/friendsincode/p2pconf/internal/signaling"
	"github.com/friendsincode/p2pconf/internal/telemetry"
	"github.com/friendsincode/p2pconf/internal/transport"
)

// announceInterval is how often broadcastAnnounce repeats while no peer is
// connected yet. Not specified by §4.5's state machine; 2s balances churn
// against convergence time for a rendezvous topic.
const announceInterval = 2 * time.Second

// Audio-routing modes (§4.9).
const (
	routingBroadcast = "broadcast"
	routingExclusive = "exclusive"
)

// ErrJoinInProgress is returned by JoinRoom when a previous call is still in
// flight or the manager is already in a room (§4.11: "concurrent calls after
// the first are ignored").
var ErrJoinInProgress = errors.New("manager: join already in progress")

type peerEntry struct {
	handle      peerHandle
	name        string
	platform    model.Platform
	isInitiator bool
	connected   bool
	muteStatus  model.MuteStatusData
	connectedAt time.Time
}

// Manager is the §4.11 façade: it aggregates the credentials provider, the
// broker transport, the signaling dispatcher, per-peer lifecycle, heartbeat,
// control plane, and network supervisor into join/leave operations and a
// typed event stream.
type Manager struct {
	cfg          *config.Config
	logger       zerolog.Logger
	observer     Observer
	credProvider *credentials.Provider
	newPeer      newPeerFunc

	mu        sync.Mutex
	selfID    string
	roomID    string
	sessionID int64
	userName  string
	platform  model.Platform
	inRoom    bool
	joining   bool
	leaving   bool

	peerFactory       *peerconn.Factory
	transport         *transport.Transport
	multicastChan     *multicast.Channel
	dispatcher        *signaling.Dispatcher
	heartbeatMonitor  *heartbeat.Monitor
	controlState      *control.State
	networkSupervisor *network.Supervisor

	peers             map[string]*peerEntry
	pendingCandidates map[string][]webrtc.ICECandidateInit
	previousStats     map[string]model.PreviousStats
	localTracks       []webrtc.TrackLocal
	localMuteStatus   model.MuteStatusData
	routingMode       string
	routingTarget     string

	announceStop chan struct{}
	announceDone chan struct{}
}

// New constructs a Manager ready to JoinRoom. observer may be nil to run
// without an event sink (tests exercising only the accessors).
func New(cfg *config.Config, observer Observer, credProvider *credentials.Provider, logger zerolog.Logger) *Manager {
	return newManager(cfg, observer, credProvider, nil, logger)
}

func newManager(cfg *config.Config, observer Observer, credProvider *credentials.Provider, newPeer newPeerFunc, logger zerolog.Logger) *Manager {
	if newPeer == nil {
		newPeer = defaultNewPeer
	}
	return &Manager{
		cfg:               cfg,
		logger:            logger.With().Str("component", "manager").Logger(),
		observer:          observer,
		credProvider:      credProvider,
		newPeer:           newPeer,
		selfID:            model.NewSelfID(),
		controlState:      control.New(),
		peers:             make(map[string]*peerEntry),
		pendingCandidates: make(map[string][]webrtc.ICECandidateInit),
		previousStats:     make(map[string]model.PreviousStats),
		routingMode:       routingBroadcast,
	}
}

// SelfID returns the manager's stable self identifier.
func (m *Manager) SelfID() string {
	return m.selfID
}

func roomTopic(roomID string) string {
	return "p2p-conf/" + roomID
}

// JoinRoom implements §4.11's joinRoom: loads credentials, builds the peer
// factory and transport, subscribes to the rendezvous topic, and starts the
// announce loop and heartbeat.
func (m *Manager) JoinRoom(ctx context.Context, roomID, userName string, platform model.Platform) error {
	ctx, span := telemetry.StartSpan(ctx, "manager", "JoinRoom")
	defer span.End()

	m.mu.Lock()
	if m.joining || m.inRoom {
		m.mu.Unlock()
		return ErrJoinInProgress
	}
	m.joining = true
	m.sessionID++
	sessionID := m.sessionID
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.joining = false
		m.mu.Unlock()
	}()

	creds, err := m.credProvider.Load(ctx)
	if err != nil {
		m.emitError("credentials", err.Error())
		return fmt.Errorf("load credentials: %w", err)
	}

	factory, err := peerconn.NewFactory(creds.ICEServers, m.logger)
	if err != nil {
		m.emitError("credentials", err.Error())
		return fmt.Errorf("build peer factory: %w", err)
	}
	if m.cfg != nil {
		factory.SetNewConnectionStale(time.Duration(m.cfg.NewConnectionStaleMs) * time.Millisecond)
	}

	m.controlState.Reset()

	tr := transport.New(m.logger, nil)
	connected := tr.ConnectAll(ctx, creds.MQTTBrokers)
	if len(connected) == 0 {
		m.emitError("mqtt-connection", "no broker connected")
		return errors.New("manager: no broker connected")
	}

	topic := roomTopic(roomID)

	m.mu.Lock()
	m.roomID = roomID
	m.userName = userName
	m.platform = platform
	m.peerFactory = factory
	m.transport = tr
	m.peers = make(map[string]*peerEntry)
	m.pendingCandidates = make(map[string][]webrtc.ICECandidateInit)
	m.previousStats = make(map[string]model.PreviousStats)
	m.routingMode = routingBroadcast
	m.routingTarget = ""
	m.mu.Unlock()

	dispatcher := signaling.New(m.selfID, senderFunc(func(env model.Envelope) { m.send(env) }), signaling.Handlers{
		OnAnnounce:     m.handleAnnounce,
		OnOffer:        m.handleOffer,
		OnAnswer:       m.handleAnswer,
		OnICECandidate: m.handleICECandidate,
		OnLeave:        m.handleLeave,
		OnMuteStatus:   m.handleMuteStatus,
		OnRoomLocked:   m.handleRoomLocked,
		OnLiveness:     m.handleLiveness,
	}, m.logger)

	m.mu.Lock()
	m.dispatcher = dispatcher
	m.mu.Unlock()

	subscribed := tr.SubscribeAll(ctx, topic, dispatcher.Dispatch)
	if subscribed == 0 {
		tr.Close()
		m.emitError("mqtt-connection", "no broker subscribed")
		return errors.New("manager: no broker subscribed")
	}

	tr.SetOnReconnect(func(url string) {
		if tr.SubscribeAll(context.Background(), topic, dispatcher.Dispatch) > 0 {
			tr.MarkReconnected(url)
			m.broadcastAnnounce()
		} else {
			tr.ScheduleReconnect(url)
		}
	})

	var mc *multicast.Channel
	if m.cfg != nil && m.cfg.MulticastNATSURL != "" {
		// The multicast bus carries the same envelopes as the brokers, so it
		// must share the transport's dedup window (§4.4).
		mc, err = multicast.Dial(m.cfg.MulticastNATSURL, topic, tr.WrapEnvelopeHandler(dispatcher.Dispatch), m.logger)
		if err != nil {
			m.logger.Debug().Err(err).Msg("multicast channel unavailable; continuing without it")
			mc = nil
		}
	}

	hb := heartbeat.New(heartbeatSender{m}, m.handlePeerStale, m.logger)
	if m.cfg != nil {
		hb.SetIntervals(m.cfg.HeartbeatPingInterval, m.cfg.HeartbeatTimeout)
	}

	m.mu.Lock()
	m.multicastChan = mc
	m.heartbeatMonitor = hb
	m.sessionID = sessionID
	m.inRoom = true
	networkSupervisor := network.New(m, m.handleNetworkError, m.handleNetworkStatus, m.logger)
	m.networkSupervisor = networkSupervisor
	m.mu.Unlock()

	hb.Start()
	m.startAnnounceLoop()
	m.broadcastAnnounce()

	m.emitSignalingStateChange()
	return nil
}

// LeaveRoom implements §4.11's leaveRoom: idempotent, tears down every peer,
// broker, and timer, and resets control/network state.
func (m *Manager) LeaveRoom() {
	m.mu.Lock()
	if !m.inRoom || m.leaving {
		m.mu.Unlock()
		return
	}
	m.leaving = true
	m.mu.Unlock()

	m.sendLeaveSignal()

	m.mu.Lock()
	peers := make([]*peerEntry, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	tr := m.transport
	mc := m.multicastChan
	hb := m.heartbeatMonitor
	ns := m.networkSupervisor
	m.mu.Unlock()

	for _, p := range peers {
		p.handle.Cleanup()
	}
	m.stopAnnounceLoop()
	if hb != nil {
		hb.Stop()
	}
	if tr != nil {
		tr.Close()
	}
	mc.Close()
	if ns != nil {
		ns.Reset()
	}
	m.controlState.Reset()

	m.mu.Lock()
	m.inRoom = false
	m.leaving = false
	m.roomID = ""
	m.peers = make(map[string]*peerEntry)
	m.pendingCandidates = make(map[string][]webrtc.ICECandidateInit)
	m.previousStats = make(map[string]model.PreviousStats)
	m.routingMode = routingBroadcast
	m.routingTarget = ""
	m.transport = nil
	m.multicastChan = nil
	m.dispatcher = nil
	m.heartbeatMonitor = nil
	m.peerFactory = nil
	m.networkSupervisor = nil
	m.mu.Unlock()

	m.emitSignalingStateChange()
}

func (m *Manager) sendLeaveSignal() {
	m.send(model.Envelope{Type: model.MessageLeave})
}

// SendLeaveSignal exposes sendLeaveSignal for callers that want to announce
// departure without tearing down local state (§4.11).
func (m *Manager) SendLeaveSignal() {
	m.sendLeaveSignal()
}

// BroadcastAnnounce re-emits a presence beacon on demand (§4.11).
func (m *Manager) BroadcastAnnounce() {
	m.broadcastAnnounce()
}

func (m *Manager) broadcastAnnounce() {
	m.mu.Lock()
	userName := m.userName
	platform := m.platform
	m.mu.Unlock()
	m.send(model.Envelope{
		Type:     model.MessageAnnounce,
		UserName: userName,
		Platform: platform,
	})
}

// senderFunc adapts a plain func into a signaling.Sender.
type senderFunc func(model.Envelope)

func (f senderFunc) Send(env model.Envelope) { f(env) }

// send stamps and emits env on every available transport (broker fan-out
// plus same-origin multicast), returning whether any route accepted it.
func (m *Manager) send(env model.Envelope) bool {
	m.mu.Lock()
	sessionID := m.sessionID
	topic := roomTopic(m.roomID)
	tr := m.transport
	mc := m.multicastChan
	m.mu.Unlock()

	env.SessionID = sessionID
	env = signaling.Stamp(env, m.selfID)

	payload, err := json.Marshal(env)
	if err != nil {
		m.logger.Debug().Err(err).Msg("failed to marshal outbound envelope")
		return false
	}

	sent := false
	if tr != nil {
		sent = tr.Publish(context.Background(), topic, payload) > 0
	}
	if mc != nil {
		mc.Send(env)
	}
	return sent
}

func (m *Manager) emitError(kind, context string) {
	if m.observer != nil {
		m.observer.Emit(ErrorEvent{Kind: kind, Context: context})
	}
}

func (m *Manager) emitSignalingStateChange() {
	if m.observer != nil {
		m.observer.Emit(SignalingStateChangeEvent{State: m.signalingStateLocked()})
	}
}

// --- Announce loop ---

func (m *Manager) startAnnounceLoop() {
	m.mu.Lock()
	if m.announceStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	m.announceStop = stop
	m.announceDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(announceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if m.connectedPeerCount() > 0 {
					continue
				}
				m.broadcastAnnounce()
			case <-stop:
				return
			}
		}
	}()
}

func (m *Manager) stopAnnounceLoop() {
	m.mu.Lock()
	stop := m.announceStop
	done := m.announceDone
	m.announceStop = nil
	m.announceDone = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *Manager) connectedPeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.peers {
		if p.connected {
			n++
		}
	}
	return n
}

// --- network.Reconnector ---

// InRoom reports whether the façade currently considers itself joined.
func (m *Manager) InRoom() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inRoom
}

// Reconnect tears down and rebuilds the broker transport, resubscribes, and
// re-announces presence (§4.10's attemptNetworkReconnect body).
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	tr := m.transport
	topic := roomTopic(m.roomID)
	dispatcher := m.dispatcher
	m.mu.Unlock()

	if tr == nil || dispatcher == nil {
		return errors.New("manager: not in room")
	}

	creds, err := m.credProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload credentials: %w", err)
	}

	tr.DisconnectAll()
	connected := tr.ConnectAll(ctx, creds.MQTTBrokers)
	if len(connected) == 0 {
		return errors.New("manager: reconnect failed, no broker connected")
	}
	if tr.SubscribeAll(ctx, topic, dispatcher.Dispatch) == 0 {
		return errors.New("manager: reconnect failed, no broker subscribed")
	}

	m.broadcastAnnounce()
	return nil
}

// ManualReconnect implements §4.10's user-triggered manualReconnect.
func (m *Manager) ManualReconnect(ctx context.Context) {
	m.mu.Lock()
	ns := m.networkSupervisor
	m.mu.Unlock()
	if ns != nil {
		ns.ManualReconnect(ctx)
	}
}

// HandleNetworkOffline forwards an OS-level offline event to the supervisor.
func (m *Manager) HandleNetworkOffline() {
	m.mu.Lock()
	ns := m.networkSupervisor
	m.mu.Unlock()
	if ns != nil {
		ns.HandleOffline()
	}
}

// HandleNetworkOnline forwards an OS-level online event to the supervisor.
func (m *Manager) HandleNetworkOnline() {
	m.mu.Lock()
	ns := m.networkSupervisor
	m.mu.Unlock()
	if ns != nil {
		ns.HandleOnline()
	}
}

func (m *Manager) handleNetworkError(kind, context string) {
	m.emitError(kind, context)
}

func (m *Manager) handleNetworkStatus(online bool) {
	if m.observer != nil {
		m.observer.Emit(NetworkStatusChangeEvent{IsOnline: online})
	}
}

// --- heartbeat.Sender ---

type heartbeatSender struct{ m *Manager }

func (h heartbeatSender) SendPing(peerID string) bool {
	return h.m.send(model.Envelope{Type: model.MessagePing, To: peerID})
}

func (m *Manager) handlePeerStale(peerID string) {
	m.cleanupPeer(peerID)
}

func (m *Manager) cleanupPeer(peerID string) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	entry.handle.Cleanup()
}

// --- Peer construction ---

func (m *Manager) createPeer(peerID, name string, platform model.Platform, isInitiator bool) (peerHandle, error) {
	m.mu.Lock()
	factory := m.peerFactory
	tracks := append([]webrtc.TrackLocal(nil), m.localTracks...)
	m.mu.Unlock()

	callbacks := peerconn.Callbacks{
		EmitICECandidate: m.onEmitICECandidate,
		EmitOffer:        m.onEmitOffer,
		EmitAnswer:       m.onEmitAnswer,
		OnPeerJoin:       m.onPeerJoin,
		OnPeerLeave:      m.onPeerLeave,
		OnRemoteStream:   m.onRemoteStream,
		OnConnected:      m.onPeerConnected,
		OnCleanup:        m.onPeerCleanup,
		OnChatMessage:    m.onChatMessage,
		OnControlMessage: m.onControlMessage,
	}

	handle, err := m.newPeer(factory, peerID, name, platform, isInitiator, tracks, callbacks, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.peers[peerID] = &peerEntry{handle: handle, name: name, platform: platform, isInitiator: isInitiator}
	pending := m.pendingCandidates[peerID]
	delete(m.pendingCandidates, peerID)
	hb := m.heartbeatMonitor
	m.mu.Unlock()

	for _, c := range pending {
		handle.AddICECandidate(c)
	}

	if hb != nil {
		hb.TrackPeer(peerID)
	}

	return handle, nil
}

// --- peerconn.Callbacks ---

func (m *Manager) onEmitICECandidate(peerID string, candidate webrtc.ICECandidateInit) {
	data, err := signaling.EncodeData(model.CandidateData{
		Candidate:     candidate.Candidate,
		SDPMid:        candidate.SDPMid,
		SDPMLineIndex: candidate.SDPMLineIndex,
	})
	if err != nil {
		return
	}
	m.send(model.Envelope{Type: model.MessageICECandidate, To: peerID, Data: data})
}

func (m *Manager) onEmitOffer(peerID, sdp string, iceRestart bool) {
	data, err := signaling.EncodeData(model.SDPData{SDP: sdp, IceRestart: iceRestart})
	if err != nil {
		return
	}
	m.send(model.Envelope{Type: model.MessageOffer, To: peerID, Data: data})
}

func (m *Manager) onEmitAnswer(peerID, sdp string) {
	data, err := signaling.EncodeData(model.SDPData{SDP: sdp})
	if err != nil {
		return
	}
	m.send(model.Envelope{Type: model.MessageAnswer, To: peerID, Data: data})
}

func (m *Manager) onPeerJoin(peerID string) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	if ok {
		entry.connected = true
		entry.connectedAt = time.Now()
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.stopAnnounceLoop()
	if m.observer != nil {
		m.observer.Emit(PeerJoinEvent{PeerID: peerID, UserName: entry.name, Platform: entry.platform})
	}
	m.emitSignalingStateChange()
}

// onPeerConnected schedules the three delayed handshake sends of §4.5: local
// mute status, current room-lock state, and local hand-raise.
func (m *Manager) onPeerConnected(peerID string) {
	time.AfterFunc(500*time.Millisecond, func() { m.sendMuteStatusTo(peerID) })
	time.AfterFunc(600*time.Millisecond, func() { m.sendRoomLockStateTo(peerID) })
	time.AfterFunc(800*time.Millisecond, func() { m.sendLocalHandRaiseTo(peerID) })
}

func (m *Manager) sendMuteStatusTo(peerID string) {
	m.mu.Lock()
	status := m.localMuteStatus
	m.mu.Unlock()
	data, err := signaling.EncodeData(status)
	if err != nil {
		return
	}
	m.send(model.Envelope{Type: model.MessageMuteStatus, To: peerID, Data: data})
}

func (m *Manager) sendRoomLockStateTo(peerID string) {
	locked, owner := m.controlState.RoomLocked()
	if !locked {
		return
	}
	m.sendControlTo(peerID, mustMarshalControl(control.ModRoomLock{
		Type: control.TypeModRoomLock, Locked: locked, LockedByPeerID: owner,
	}))
}

func (m *Manager) sendLocalHandRaiseTo(peerID string) {
	if !m.controlState.Snapshot().LocalHandRaised {
		return
	}
	m.sendControlTo(peerID, mustMarshalControl(control.ModHandRaise{
		Type: control.TypeModHandRaise, PeerID: m.selfID, Raised: true,
	}))
}

func (m *Manager) sendControlTo(peerID string, payload []byte) bool {
	if payload == nil {
		return false
	}
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return entry.handle.SendControl(payload)
}

func (m *Manager) onPeerLeave(peerID string) {
	m.mu.Lock()
	entry, ok := m.peers[peerID]
	hb := m.heartbeatMonitor
	m.mu.Unlock()

	var name string
	var platform model.Platform
	if ok {
		name, platform = entry.name, entry.platform
	}

	if hb != nil {
		hb.Forget(peerID)
	}

	rmEvent, modEvents := m.controlState.PeerDisconnected(peerID)
	if rmEvent != nil {
		m.SetAudioRoutingMode(routingBroadcast, "")
		m.emitRemoteMicEvent(rmEvent.PeerID, rmEvent.RequestID, "stop", false, rmEvent.Reason)
	}
	for _, ev := range modEvents {
		m.emitModerationEvent(ev.PeerID, ev.Kind, nil)
	}

	if m.observer != nil {
		m.observer.Emit(PeerLeaveEvent{PeerID: peerID, UserName: name, Platform: platform})
	}
}

// onPeerCleanup removes all manager-owned state for peerID and restarts the
// announce loop if no connected peer remains (§4.5.2).
func (m *Manager) onPeerCleanup(peerID string) {
	m.mu.Lock()
	delete(m.peers, peerID)
	delete(m.previousStats, peerID)
	delete(m.pendingCandidates, peerID)
	remaining := 0
	for _, p := range m.peers {
		if p.connected {
			remaining++
		}
	}
	inRoom := m.inRoom
	m.mu.Unlock()

	if inRoom && remaining == 0 {
		m.startAnnounceLoop()
	}
	m.emitSignalingStateChange()
}

func (m *Manager) onRemoteStream(peerID string, track *webrtc.TrackRemote) {
	if m.observer != nil {
		m.observer.Emit(RemoteStreamEvent{PeerID: peerID, Track: track})
	}
}

func (m *Manager) onChatMessage(peerID string, payload []byte) {
	msg, ok := control.DecodeChatMessage(payload)
	if !ok {
		return
	}
	if m.observer != nil {
		m.observer.Emit(ChatEvent{PeerID: peerID, Message: msg})
	}
}

func (m *Manager) peerSnapshot() map[string]*peerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]*peerEntry, len(m.peers))
	for k, v := range m.peers {
		snap[k] = v
	}
	return snap
}

func timeNowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
