package signaling

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
)

type fakeSender struct {
	sent []model.Envelope
}

func (f *fakeSender) Send(env model.Envelope) { f.sent = append(f.sent, env) }

func TestDispatchDropsSelfOriginEnvelopes(t *testing.T) {
	called := false
	d := New("self", &fakeSender{}, Handlers{
		OnAnnounce: func(model.Envelope) { called = true },
	}, zerolog.Nop())

	d.Dispatch(model.Envelope{Type: model.MessageAnnounce, From: "self"})
	if called {
		t.Fatal("expected self-origin envelope to be dropped")
	}
}

func TestDispatchDropsEnvelopesAddressedElsewhere(t *testing.T) {
	called := false
	d := New("self", &fakeSender{}, Handlers{
		OnOffer: func(model.Envelope) { called = true },
	}, zerolog.Nop())

	d.Dispatch(model.Envelope{Type: model.MessageOffer, From: "peer", To: "someone-else"})
	if called {
		t.Fatal("expected envelope addressed to another peer to be dropped")
	}
}

func TestDispatchRoutesUnaddressedAndSelfAddressedEnvelopes(t *testing.T) {
	called := false
	d := New("self", &fakeSender{}, Handlers{
		OnAnnounce: func(model.Envelope) { called = true },
	}, zerolog.Nop())

	d.Dispatch(model.Envelope{Type: model.MessageAnnounce, From: "peer"})
	if !called {
		t.Fatal("expected broadcast announce to be routed")
	}

	called = false
	d.Dispatch(model.Envelope{Type: model.MessageAnnounce, From: "peer", To: "self"})
	if !called {
		t.Fatal("expected self-addressed envelope to be routed")
	}
}

func TestDispatchPingRepliesWithPong(t *testing.T) {
	sender := &fakeSender{}
	d := New("self", sender, Handlers{}, zerolog.Nop())

	d.Dispatch(model.Envelope{Type: model.MessagePing, From: "peer"})

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one pong reply, got %d", len(sender.sent))
	}
	if sender.sent[0].Type != model.MessagePong || sender.sent[0].To != "peer" {
		t.Fatalf("unexpected reply: %+v", sender.sent[0])
	}
}

func TestDispatchPongRecordsLivenessOnly(t *testing.T) {
	var liveness string
	d := New("self", &fakeSender{}, Handlers{
		OnLiveness: func(peerID string) { liveness = peerID },
	}, zerolog.Nop())

	d.Dispatch(model.Envelope{Type: model.MessagePong, From: "peer"})
	if liveness != "peer" {
		t.Fatalf("expected liveness recorded for peer, got %q", liveness)
	}
}

func TestStampAssignsMsgIDWhenAbsent(t *testing.T) {
	env := Stamp(model.Envelope{Type: model.MessageAnnounce}, "self")
	if env.MsgID == "" {
		t.Fatal("expected msgId to be assigned")
	}
	if env.From != "self" {
		t.Fatalf("expected From to be stamped, got %q", env.From)
	}
	if env.V != model.EnvelopeVersion {
		t.Fatalf("expected envelope version stamped, got %d", env.V)
	}
}

func TestStampPreservesExistingMsgID(t *testing.T) {
	env := Stamp(model.Envelope{Type: model.MessageAnnounce, MsgID: "explicit"}, "self")
	if env.MsgID != "explicit" {
		t.Fatalf("expected msgId to be preserved, got %q", env.MsgID)
	}
}
