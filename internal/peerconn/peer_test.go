package peerconn

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
)

func testFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	return f
}

func TestNewPeerInitiatorOpensBothDataChannels(t *testing.T) {
	f := testFactory(t)
	p, err := New(f, "peer-1", "Alice", model.PlatformLinux, true, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Cleanup()

	p.mu.Lock()
	chat, control := p.chatChannel, p.controlChannel
	p.mu.Unlock()

	if chat == nil || chat.Label() != "chat" {
		t.Fatal("expected initiator to open a chat data channel")
	}
	if control == nil || control.Label() != "control" {
		t.Fatal("expected initiator to open a control data channel")
	}
}

func TestAddICECandidateBuffersUntilRemoteDescriptionSet(t *testing.T) {
	f := testFactory(t)
	p, err := New(f, "peer-2", "Bob", model.PlatformLinux, true, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Cleanup()

	p.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 UDP 1 127.0.0.1 1234 typ host"})
	p.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:2 1 UDP 1 127.0.0.1 1235 typ host"})

	p.mu.Lock()
	pending := len(p.pendingCandidates)
	p.mu.Unlock()

	if pending != 2 {
		t.Fatalf("expected 2 buffered candidates before remote description is set, got %d", pending)
	}
}

func TestRestartICERespectsMaxAttempts(t *testing.T) {
	f := testFactory(t)
	p, err := New(f, "peer-3", "Carol", model.PlatformLinux, true, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Cleanup()

	p.mu.Lock()
	p.iceRestartAttempts = maxICERestartAttempts
	p.mu.Unlock()

	p.RestartICE()

	p.mu.Lock()
	inProgress := p.restartInProgress
	p.mu.Unlock()

	if inProgress {
		t.Fatal("expected RestartICE to no-op once max attempts is reached")
	}
}

func TestRestartICEIsNoOpWhileAlreadyInProgress(t *testing.T) {
	f := testFactory(t)
	p, err := New(f, "peer-4", "Dave", model.PlatformLinux, true, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Cleanup()

	p.mu.Lock()
	p.restartInProgress = true
	p.mu.Unlock()

	p.RestartICE()

	p.mu.Lock()
	attempts := p.iceRestartAttempts
	p.mu.Unlock()

	if attempts != 0 {
		t.Fatalf("expected restart attempt counter untouched while a restart is in progress, got %d", attempts)
	}
}

func TestIsStaleOnlyAppliesToStateNone(t *testing.T) {
	f := testFactory(t)
	p, err := New(f, "peer-5", "Eve", model.PlatformLinux, true, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Cleanup()

	p.CreatedAt = time.Now().Add(-20 * time.Second)
	if !p.IsStale() {
		t.Fatal("expected an aged StateNone peer to be reported stale")
	}

	p.setState(StateConnected)
	if p.IsStale() {
		t.Fatal("expected a connected peer never to be reported stale")
	}
}

func TestCleanupIsIdempotentAndInvokesCallbacksOnce(t *testing.T) {
	f := testFactory(t)
	leaveCount := 0
	cleanupCount := 0
	p, err := New(f, "peer-6", "Frank", model.PlatformLinux, true, nil, Callbacks{
		OnPeerLeave: func(peerID string) { leaveCount++ },
		OnCleanup:   func(peerID string) { cleanupCount++ },
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	p.Cleanup()
	p.Cleanup()

	if leaveCount != 1 {
		t.Fatalf("expected OnPeerLeave exactly once, got %d", leaveCount)
	}
	if cleanupCount != 1 {
		t.Fatalf("expected OnCleanup exactly once, got %d", cleanupCount)
	}
	if p.State() != StateRemoved {
		t.Fatalf("expected state removed after cleanup, got %s", p.State())
	}
}

func TestSetRoutingTargetDefaultsToBroadcast(t *testing.T) {
	f := testFactory(t)
	p, err := New(f, "peer-7", "Grace", model.PlatformLinux, true, nil, Callbacks{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Cleanup()

	if p.routingTargetPeer != "" {
		t.Fatal("expected default routing mode to be broadcast (empty target)")
	}

	p.SetRoutingTarget("peer-exclusive")
	p.mu.Lock()
	target := p.routingTargetPeer
	p.mu.Unlock()
	if target != "peer-exclusive" {
		t.Fatalf("expected routing target to be set, got %q", target)
	}
}
