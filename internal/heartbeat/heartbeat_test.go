package heartbeat

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu    sync.Mutex
	pings []string
}

func (f *fakeSender) SendPing(peerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings = append(f.pings, peerID)
	return true
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pings)
}

func TestTrackPeerInitializesLivenessOnce(t *testing.T) {
	m := New(&fakeSender{}, nil, zerolog.Nop())
	m.TrackPeer("peer-1")

	m.mu.Lock()
	pl := m.peers["peer-1"]
	firstSeen := pl.lastSeen
	m.mu.Unlock()

	m.TrackPeer("peer-1")

	m.mu.Lock()
	secondSeen := m.peers["peer-1"].lastSeen
	m.mu.Unlock()

	if !firstSeen.Equal(secondSeen) {
		t.Fatal("expected TrackPeer to be a no-op for an already-tracked peer")
	}
}

func TestRecordActivityUpdatesLastSeen(t *testing.T) {
	m := New(&fakeSender{}, nil, zerolog.Nop())
	m.TrackPeer("peer-1")

	m.mu.Lock()
	m.peers["peer-1"].lastSeen = time.Now().Add(-10 * time.Second)
	m.mu.Unlock()

	m.RecordActivity("peer-1")

	m.mu.Lock()
	age := time.Since(m.peers["peer-1"].lastSeen)
	m.mu.Unlock()

	if age > time.Second {
		t.Fatalf("expected RecordActivity to refresh lastSeen, age=%v", age)
	}
}

// S5 — heartbeat eviction: a peer whose lastSeen is 20s old is cleaned on
// the next tick and onStale fires for it exactly once.
func TestTickEvictsStalePeer(t *testing.T) {
	var evicted []string
	var mu sync.Mutex
	m := New(&fakeSender{}, func(peerID string) {
		mu.Lock()
		evicted = append(evicted, peerID)
		mu.Unlock()
	}, zerolog.Nop())

	m.TrackPeer("stale-peer")
	m.mu.Lock()
	m.peers["stale-peer"].lastSeen = time.Now().Add(-20 * time.Second)
	m.mu.Unlock()

	m.tick()

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != "stale-peer" {
		t.Fatalf("expected stale-peer evicted exactly once, got %v", evicted)
	}

	m.mu.Lock()
	_, stillTracked := m.peers["stale-peer"]
	m.mu.Unlock()
	if stillTracked {
		t.Fatal("expected evicted peer removed from tracking map")
	}
}

func TestTickPingsPeersPastPingInterval(t *testing.T) {
	sender := &fakeSender{}
	m := New(sender, nil, zerolog.Nop())

	m.TrackPeer("peer-1")
	m.mu.Lock()
	m.peers["peer-1"].lastPing = time.Now().Add(-6 * time.Second)
	m.mu.Unlock()

	m.tick()

	if sender.count() != 1 {
		t.Fatalf("expected exactly one ping sent, got %d", sender.count())
	}
}

func TestTickDoesNotPingRecentlyPingedPeer(t *testing.T) {
	sender := &fakeSender{}
	m := New(sender, nil, zerolog.Nop())

	m.TrackPeer("peer-1")
	m.tick()

	if sender.count() != 0 {
		t.Fatalf("expected no ping for a freshly tracked peer, got %d", sender.count())
	}
}

func TestForgetRemovesPeerFromTracking(t *testing.T) {
	m := New(&fakeSender{}, nil, zerolog.Nop())
	m.TrackPeer("peer-1")
	m.Forget("peer-1")

	m.mu.Lock()
	_, ok := m.peers["peer-1"]
	m.mu.Unlock()

	if ok {
		t.Fatal("expected Forget to remove the peer from the tracking map")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	m := New(&fakeSender{}, nil, zerolog.Nop())
	m.Start()
	m.Stop()
	m.Stop()
}

func TestSetIntervalsOverridesPingCadence(t *testing.T) {
	sender := &fakeSender{}
	m := New(sender, nil, zerolog.Nop())
	m.SetIntervals(time.Hour, time.Hour)

	m.TrackPeer("peer-1")
	m.mu.Lock()
	m.peers["peer-1"].lastPing = time.Now().Add(-6 * time.Second)
	m.mu.Unlock()

	m.tick()

	if sender.count() != 0 {
		t.Fatalf("expected no ping under an hour-long cadence, got %d", sender.count())
	}
}
