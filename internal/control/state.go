/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package control

import (
	"sync"
	"time"

	"github.com/friendsincode/p2pconf/internal/model"
)

// RemoteMicEvent is the synthetic/real transition the control state machine
// hands back to the caller so it can drive callbacks and audio routing
// (§4.9's "resets audio routing to broadcast, emits a synthetic rm_stop
// callback" rule).
type RemoteMicEvent struct {
	RequestID string
	PeerID    string
	Reason    string
}

// ModerationEvent carries a single synthetic moderation notification (an
// unlock or hand-lower) produced by a peer disconnect.
type ModerationEvent struct {
	Kind   string // "room-unlocked", "hand-lowered"
	PeerID string
}

// State holds the §3 ControlState entity: pending remote-mic requests,
// the active target/source pair, room-lock ownership, raised hands, and
// outstanding mute-all requests. One State lives for the lifetime of a
// room (reset fully on leave).
type State struct {
	mu sync.Mutex

	// Remote-mic, receiving side: requestId -> the peer who asked us.
	pendingIncoming map[string]string

	pendingOutgoingRequestID string
	activeRequestID          string
	activeTargetPeer         string // peer granting us remote-mic access
	activeSourcePeer         string // peer we granted remote-mic access to

	roomLocked    bool
	roomLockOwner string

	raisedHands *raisedHandSet

	// requestID -> still-outstanding peer ids for a mute-all broadcast we
	// originated and are waiting on acknowledgements from.
	pendingMuteAll map[string]map[string]bool

	localHandRaised bool
}

// New constructs an empty control State.
func New() *State {
	return &State{
		pendingIncoming: make(map[string]string),
		raisedHands:     newRaisedHandSet(),
		pendingMuteAll:  make(map[string]map[string]bool),
	}
}

// Reset clears every field, matching §3's "resets fully on leave" invariant.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingIncoming = make(map[string]string)
	s.pendingOutgoingRequestID = ""
	s.activeRequestID = ""
	s.activeTargetPeer = ""
	s.activeSourcePeer = ""
	s.roomLocked = false
	s.roomLockOwner = ""
	s.raisedHands = newRaisedHandSet()
	s.pendingMuteAll = make(map[string]map[string]bool)
	s.localHandRaised = false
}

// --- Remote mic, receiving side ---

// RecordIncomingRequest registers an rm_request from sourcePeerID.
func (s *State) RecordIncomingRequest(requestID, sourcePeerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingIncoming[requestID] = sourcePeerID
}

// ResolveIncomingRequest removes and returns the source peer for a request
// we are about to accept or reject.
func (s *State) ResolveIncomingRequest(requestID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	peerID, ok := s.pendingIncoming[requestID]
	delete(s.pendingIncoming, requestID)
	return peerID, ok
}

// MarkActiveSource sets the peer we accepted as the active source, driven
// by that peer's rm_start.
func (s *State) MarkActiveSource(requestID, sourcePeerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRequestID != requestID {
		return
	}
	s.activeSourcePeer = sourcePeerID
}

// --- Remote mic, requesting side ---

// SetPendingOutgoing records our own outstanding rm_request.
func (s *State) SetPendingOutgoing(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingOutgoingRequestID = requestID
}

// AcceptOutgoing transitions a pending outgoing request into the active
// target once the remote peer's rm_response(accepted=true) arrives.
func (s *State) AcceptOutgoing(requestID, targetPeerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOutgoingRequestID != requestID {
		return false
	}
	s.pendingOutgoingRequestID = ""
	s.activeRequestID = requestID
	s.activeTargetPeer = targetPeerID
	return true
}

// RejectOutgoing clears a pending outgoing request on rm_response(accepted=false).
func (s *State) RejectOutgoing(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingOutgoingRequestID != requestID {
		return false
	}
	s.pendingOutgoingRequestID = ""
	return true
}

// StopRemoteMic clears both the active target and source, returning true if
// there was anything active to clear (callers use this to decide whether to
// reset audio routing and emit a synthetic rm_stop).
func (s *State) StopRemoteMic(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRequestID != requestID && s.activeRequestID != "" && requestID != "" {
		return false
	}
	hadActive := s.activeTargetPeer != "" || s.activeSourcePeer != ""
	s.activeRequestID = ""
	s.activeTargetPeer = ""
	s.activeSourcePeer = ""
	return hadActive
}

// ActiveTargetPeer returns the peer currently granting us remote-mic access.
func (s *State) ActiveTargetPeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTargetPeer
}

// ActiveSourcePeer returns the peer we currently grant remote-mic access to.
func (s *State) ActiveSourcePeer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeSourcePeer
}

// --- Moderation: room lock ---

// SetRoomLocked applies a mod_room_lock message or a local setRoomLocked call.
func (s *State) SetRoomLocked(locked bool, ownerPeerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomLocked = locked
	if locked {
		s.roomLockOwner = ownerPeerID
	} else {
		s.roomLockOwner = ""
	}
}

// RoomLocked reports the current lock state and owner.
func (s *State) RoomLocked() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomLocked, s.roomLockOwner
}

// --- Moderation: hand raise ---

// SetHandRaised applies a mod_hand_raise message for a remote peer.
func (s *State) SetHandRaised(peerID string, raised bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if raised {
		s.raisedHands.Add(peerID, time.Now().UnixMilli())
	} else {
		s.raisedHands.Remove(peerID)
	}
}

// SetLocalHandRaised records the local participant's own raised-hand state.
func (s *State) SetLocalHandRaised(raised bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localHandRaised = raised
}

// --- Moderation: mute-all ---

// TrackMuteAllRequest records requestID as awaiting a response from every
// peer in targetPeerIDs.
func (s *State) TrackMuteAllRequest(requestID string, targetPeerIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outstanding := make(map[string]bool, len(targetPeerIDs))
	for _, id := range targetPeerIDs {
		outstanding[id] = true
	}
	s.pendingMuteAll[requestID] = outstanding
}

// AckMuteAllResponse removes peerID from requestID's outstanding set,
// dropping the request entirely once every peer has responded.
func (s *State) AckMuteAllResponse(requestID, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outstanding, ok := s.pendingMuteAll[requestID]
	if !ok {
		return
	}
	delete(outstanding, peerID)
	if len(outstanding) == 0 {
		delete(s.pendingMuteAll, requestID)
	}
}

// --- Peer disconnect reconciliation (§4.9) ---

// PeerDisconnected reconciles every piece of moderation/remote-mic state
// that referenced peerID, returning the remote-mic event to synthesize (if
// any) and the moderation events to synthesize.
func (s *State) PeerDisconnected(peerID string) (*RemoteMicEvent, []ModerationEvent) {
	s.mu.Lock()

	var rmEvent *RemoteMicEvent
	if s.activeTargetPeer == peerID || s.activeSourcePeer == peerID {
		requestID := s.activeRequestID
		s.activeRequestID = ""
		s.activeTargetPeer = ""
		s.activeSourcePeer = ""
		rmEvent = &RemoteMicEvent{RequestID: requestID, PeerID: peerID, Reason: "peer-disconnected"}
	}
	// An incoming request from a peer that vanishes before we act on it is
	// simply dropped; pendingIncoming is keyed by requestID, not peerID, so
	// remove any entries that named this peer as the source.
	for reqID, sourcePeer := range s.pendingIncoming {
		if sourcePeer == peerID {
			delete(s.pendingIncoming, reqID)
		}
	}

	var events []ModerationEvent
	if s.raisedHands.Contains(peerID) {
		s.raisedHands.Remove(peerID)
		events = append(events, ModerationEvent{Kind: "hand-lowered", PeerID: peerID})
	}
	for requestID, outstanding := range s.pendingMuteAll {
		if outstanding[peerID] {
			delete(outstanding, peerID)
			if len(outstanding) == 0 {
				delete(s.pendingMuteAll, requestID)
			}
		}
	}
	if s.roomLocked && s.roomLockOwner == peerID {
		s.roomLocked = false
		s.roomLockOwner = ""
		events = append(events, ModerationEvent{Kind: "room-unlocked", PeerID: peerID})
	}

	s.mu.Unlock()
	return rmEvent, events
}

// Snapshot returns the façade's getModerationState accessor payload.
func (s *State) Snapshot() model.ModerationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	hands := make(map[string]int64, len(s.raisedHands.order))
	for _, id := range s.raisedHands.order {
		hands[id] = s.raisedHands.ts[id]
	}

	pending := make([]string, 0, len(s.pendingMuteAll))
	for reqID := range s.pendingMuteAll {
		pending = append(pending, reqID)
	}

	return model.ModerationState{
		RoomLocked:             s.roomLocked,
		RoomLockOwner:          s.roomLockOwner,
		ActiveTargetPeer:       s.activeTargetPeer,
		ActiveSourcePeer:       s.activeSourcePeer,
		LocalHandRaised:        s.localHandRaised,
		RaisedHands:            hands,
		PendingMuteAllRequests: pending,
	}
}

// raisedHandSet is an insertion-ordered peerID->timestamp map, extending
// orderedSet with the timestamp §3's ControlState.raisedHands needs.
type raisedHandSet struct {
	*orderedSet
	ts map[string]int64
}

func newRaisedHandSet() *raisedHandSet {
	return &raisedHandSet{orderedSet: newOrderedSet(), ts: make(map[string]int64)}
}

func (r *raisedHandSet) Add(peerID string, unixMilli int64) {
	r.orderedSet.Add(peerID)
	r.ts[peerID] = unixMilli
}

func (r *raisedHandSet) Remove(peerID string) {
	r.orderedSet.Remove(peerID)
	delete(r.ts, peerID)
}
