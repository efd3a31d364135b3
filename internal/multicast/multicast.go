/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package multicast implements §4.4's same-origin multicast channel: a
// parallel, best-effort transport for the same rendezvous envelopes the
// broker transport carries. It is optional — construction failure is
// swallowed by the caller — and idempotence across it and the broker
// transport is guaranteed by the dedup cache, not by this package.
package multicast

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
)

// Channel is a best-effort NATS core pub/sub connection standing in for the
// teacher's "two windows sharing an origin" broadcast bus: a process-local
// or LAN-local fan-out that every outbound envelope is also sent on.
type Channel struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	topic  string
	logger zerolog.Logger
}

// Dial attempts to connect to url and subscribe to topic. Per §4.1/§7 this
// is a soft-fail secondary transport: callers swallow a non-nil error and
// simply proceed without the multicast channel.
func Dial(url, topic string, onEnvelope func(model.Envelope), logger zerolog.Logger) (*Channel, error) {
	conn, err := nats.Connect(url, nats.Name("p2pconf-multicast"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect multicast channel: %w", err)
	}

	sub, err := conn.Subscribe(topic, func(msg *nats.Msg) {
		var env model.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			logger.Debug().Err(err).Msg("dropping malformed multicast envelope")
			return
		}
		if onEnvelope != nil {
			onEnvelope(env)
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe multicast topic: %w", err)
	}

	return &Channel{
		conn:   conn,
		sub:    sub,
		topic:  topic,
		logger: logger.With().Str("component", "multicast").Logger(),
	}, nil
}

// Send publishes env on the multicast topic. Failures are logged and
// swallowed: this is a parallel transport, never the sole path (§4.4).
func (c *Channel) Send(env model.Envelope) {
	if c == nil || c.conn == nil {
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		c.logger.Debug().Err(err).Msg("failed to marshal envelope for multicast")
		return
	}
	if err := c.conn.Publish(c.topic, payload); err != nil {
		c.logger.Debug().Err(err).Msg("failed to publish on multicast channel")
	}
}

// Close unsubscribes and closes the underlying connection. Safe to call on
// a nil Channel.
func (c *Channel) Close() {
	if c == nil {
		return
	}
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
