/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package network

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

type fakeReconnector struct {
	inRoom    atomic.Bool
	failUntil int32
	attempts  atomic.Int32
}

func (f *fakeReconnector) InRoom() bool { return f.inRoom.Load() }

func (f *fakeReconnector) Reconnect(ctx context.Context) error {
	n := f.attempts.Add(1)
	if n <= f.failUntil {
		return errors.New("simulated reconnect failure")
	}
	return nil
}

func TestAttemptReconnectNoOpWhenNotInRoom(t *testing.T) {
	fr := &fakeReconnector{}
	s := New(fr, nil, nil, zerolog.Nop())
	s.AttemptReconnect(context.Background())
	if fr.attempts.Load() != 0 {
		t.Fatal("reconnect should not be attempted outside a room")
	}
}

func TestAttemptReconnectSucceedsAndResetsAttempts(t *testing.T) {
	fr := &fakeReconnector{}
	fr.inRoom.Store(true)
	s := New(fr, nil, nil, zerolog.Nop())

	s.AttemptReconnect(context.Background())
	if fr.attempts.Load() != 1 {
		t.Fatalf("expected exactly 1 reconnect attempt, got %d", fr.attempts.Load())
	}
	_, wasInRoom, attempts := s.Status()
	if wasInRoom || attempts != 0 {
		t.Fatalf("expected reset state after success, got wasInRoom=%v attempts=%d", wasInRoom, attempts)
	}
}

func TestAttemptReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	fr := &fakeReconnector{failUntil: 100}
	fr.inRoom.Store(true)

	var gotErrKind, gotErrCtx string
	s := New(fr, func(kind, ctx string) { gotErrKind, gotErrCtx = kind, ctx }, nil, zerolog.Nop())
	s.wasInRoomWhenOffline = true

	for i := 0; i < maxReconnectAttempts+1; i++ {
		s.AttemptReconnect(context.Background())
	}

	if gotErrKind != "network-reconnect" {
		t.Fatalf("expected onError(network-reconnect, ...) to fire, got kind=%q ctx=%q", gotErrKind, gotErrCtx)
	}
	_, _, attempts := s.Status()
	if attempts != 0 {
		t.Fatalf("expected attempts reset to 0 after giving up, got %d", attempts)
	}
}

func TestManualReconnectResetsAttemptsFirst(t *testing.T) {
	fr := &fakeReconnector{}
	fr.inRoom.Store(true)
	s := New(fr, nil, nil, zerolog.Nop())
	s.reconnectAttempts = 4

	s.ManualReconnect(context.Background())

	_, _, attempts := s.Status()
	if attempts != 0 {
		t.Fatalf("expected attempts reset to 0 after a successful manual reconnect, got %d", attempts)
	}
	if fr.attempts.Load() != 1 {
		t.Fatalf("expected exactly one reconnect call, got %d", fr.attempts.Load())
	}
}

func TestHandleOfflineThenOnlineTriggersStabilizedReconnect(t *testing.T) {
	fr := &fakeReconnector{}
	fr.inRoom.Store(true)

	statusCh := make(chan bool, 2)
	s := New(fr, nil, func(online bool) { statusCh <- online }, zerolog.Nop())

	s.HandleOffline()
	if online := <-statusCh; online {
		t.Fatal("expected offline status notification")
	}
	_, wasInRoom, _ := s.Status()
	if !wasInRoom {
		t.Fatal("expected wasInRoomWhenOffline to latch true")
	}

	s.HandleOnline()
	if online := <-statusCh; !online {
		t.Fatal("expected online status notification")
	}
	// The stabilization timer fires asynchronously; AttemptReconnect is
	// exercised directly by the other tests above, so here we only assert
	// the latch and notification wiring.
}
