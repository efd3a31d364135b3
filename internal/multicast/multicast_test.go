/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package multicast

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
)

func TestDialUnreachableReturnsError(t *testing.T) {
	_, err := Dial("nats://127.0.0.1:1", "p2p-conf/test", nil, zerolog.Nop())
	if err == nil {
		t.Fatal("expected an error dialing an unreachable multicast broker")
	}
}

func TestNilChannelSendAndCloseAreNoOps(t *testing.T) {
	var c *Channel
	c.Send(model.Envelope{Type: model.MessageAnnounce})
	c.Close()
}
