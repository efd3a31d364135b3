/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package control

import "testing"

func TestRemoteMicRequestLifecycle(t *testing.T) {
	s := New()

	s.SetPendingOutgoing("req1")
	if !s.AcceptOutgoing("req1", "peerA") {
		t.Fatal("expected accept to apply to the matching pending request")
	}
	if got := s.ActiveTargetPeer(); got != "peerA" {
		t.Fatalf("active target peer = %q, want peerA", got)
	}

	s.MarkActiveSource("req1", "peerA")
	if got := s.ActiveSourcePeer(); got != "peerA" {
		t.Fatalf("active source peer = %q, want peerA", got)
	}

	if !s.StopRemoteMic("req1") {
		t.Fatal("expected StopRemoteMic to report it cleared active state")
	}
	if s.ActiveTargetPeer() != "" || s.ActiveSourcePeer() != "" {
		t.Fatal("expected both active peers cleared after stop")
	}
}

func TestAcceptOutgoingRejectsMismatchedRequest(t *testing.T) {
	s := New()
	s.SetPendingOutgoing("req1")
	if s.AcceptOutgoing("req2", "peerA") {
		t.Fatal("accept should not apply to a non-matching request id")
	}
	if s.ActiveTargetPeer() != "" {
		t.Fatal("mismatched accept must not set active target")
	}
}

func TestIncomingRequestResolution(t *testing.T) {
	s := New()
	s.RecordIncomingRequest("req1", "peerB")

	peer, ok := s.ResolveIncomingRequest("req1")
	if !ok || peer != "peerB" {
		t.Fatalf("ResolveIncomingRequest = (%q, %v), want (peerB, true)", peer, ok)
	}
	if _, ok := s.ResolveIncomingRequest("req1"); ok {
		t.Fatal("request should be consumed after first resolve")
	}
}

func TestRoomLockRoundTrip(t *testing.T) {
	s := New()
	s.SetRoomLocked(true, "peerA")
	locked, owner := s.RoomLocked()
	if !locked || owner != "peerA" {
		t.Fatalf("RoomLocked() = (%v, %q), want (true, peerA)", locked, owner)
	}

	s.SetRoomLocked(false, "")
	locked, owner = s.RoomLocked()
	if locked || owner != "" {
		t.Fatalf("RoomLocked() after unlock = (%v, %q), want (false, \"\")", locked, owner)
	}
}

func TestRaisedHandsInsertionOrder(t *testing.T) {
	s := New()
	s.SetHandRaised("peerA", true)
	s.SetHandRaised("peerB", true)
	s.SetHandRaised("peerA", true) // re-raise must not reorder

	snap := s.Snapshot()
	if len(snap.RaisedHands) != 2 {
		t.Fatalf("expected 2 raised hands, got %d", len(snap.RaisedHands))
	}
	if _, ok := snap.RaisedHands["peerA"]; !ok {
		t.Fatal("expected peerA in raised hands")
	}
	if keys := s.raisedHands.Keys(); len(keys) != 2 || keys[0] != "peerA" || keys[1] != "peerB" {
		t.Fatalf("raised-hand order = %v, want [peerA peerB]", keys)
	}
}

func TestMuteAllAckClearsOnLastResponse(t *testing.T) {
	s := New()
	s.TrackMuteAllRequest("req1", []string{"peerA", "peerB"})

	if snap := s.Snapshot(); len(snap.PendingMuteAllRequests) != 1 {
		t.Fatalf("expected 1 pending mute-all request, got %d", len(snap.PendingMuteAllRequests))
	}

	s.AckMuteAllResponse("req1", "peerA")
	if snap := s.Snapshot(); len(snap.PendingMuteAllRequests) != 1 {
		t.Fatal("request should remain pending until every peer acks")
	}

	s.AckMuteAllResponse("req1", "peerB")
	if snap := s.Snapshot(); len(snap.PendingMuteAllRequests) != 0 {
		t.Fatal("request should be dropped once every peer has acked")
	}
}

func TestPeerDisconnectedClearsActiveRemoteMic(t *testing.T) {
	s := New()
	s.SetPendingOutgoing("req1")
	s.AcceptOutgoing("req1", "peerA")

	event, _ := s.PeerDisconnected("peerA")
	if event == nil || event.PeerID != "peerA" || event.RequestID != "req1" {
		t.Fatalf("expected synthetic rm_stop event for peerA/req1, got %+v", event)
	}
	if s.ActiveTargetPeer() != "" {
		t.Fatal("active target peer should be cleared on disconnect")
	}
}

func TestPeerDisconnectedUnlocksOwnedRoom(t *testing.T) {
	s := New()
	s.SetRoomLocked(true, "peerA")

	_, events := s.PeerDisconnected("peerA")
	found := false
	for _, e := range events {
		if e.Kind == "room-unlocked" && e.PeerID == "peerA" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected room-unlocked event, got %+v", events)
	}
	if locked, _ := s.RoomLocked(); locked {
		t.Fatal("room should be unlocked after lock owner disconnects")
	}
}

func TestPeerDisconnectedLowersRaisedHand(t *testing.T) {
	s := New()
	s.SetHandRaised("peerA", true)

	_, events := s.PeerDisconnected("peerA")
	found := false
	for _, e := range events {
		if e.Kind == "hand-lowered" && e.PeerID == "peerA" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hand-lowered event, got %+v", events)
	}
}

func TestResetClearsEverything(t *testing.T) {
	s := New()
	s.SetRoomLocked(true, "peerA")
	s.SetHandRaised("peerB", true)
	s.SetPendingOutgoing("req1")
	s.SetLocalHandRaised(true)

	s.Reset()

	snap := s.Snapshot()
	if snap.RoomLocked || snap.LocalHandRaised || len(snap.RaisedHands) != 0 {
		t.Fatalf("expected zeroed state after Reset, got %+v", snap)
	}
}
