/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package signaling implements the envelope dispatcher of §4.4: inbound
// filtering (self-origin and addressed-elsewhere drops), ping/pong liveness
// handling, and msgId stamping for outbound envelopes.
package signaling

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
)

// Sender publishes a ready-to-send envelope on every available transport
// (broker fan-out plus same-origin multicast). The dedup cache guarantees
// idempotence across transports (§4.4).
type Sender interface {
	Send(env model.Envelope)
}

// Handlers is the set of callbacks the dispatcher routes decoded envelopes
// to. Implementations live in internal/peerconn, internal/heartbeat, and
// internal/control.
type Handlers struct {
	OnAnnounce     func(env model.Envelope)
	OnOffer        func(env model.Envelope)
	OnAnswer       func(env model.Envelope)
	OnICECandidate func(env model.Envelope)
	OnLeave        func(env model.Envelope)
	OnMuteStatus   func(env model.Envelope)
	OnRoomLocked   func(env model.Envelope)

	// OnLiveness is invoked for every envelope (including ping/pong) to
	// record inbound activity (§4.7: "any inbound message records
	// activity").
	OnLiveness func(peerID string)
}

// Dispatcher applies §4.4's inbound filter rules and routes surviving
// envelopes to the registered Handlers.
type Dispatcher struct {
	selfID   string
	logger   zerolog.Logger
	sender   Sender
	handlers Handlers
}

// New constructs a Dispatcher bound to a specific selfID (monotonic across
// the manager's lifetime, not process lifetime — one per joinRoom call).
func New(selfID string, sender Sender, handlers Handlers, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		selfID:   selfID,
		logger:   logger.With().Str("component", "signaling").Logger(),
		sender:   sender,
		handlers: handlers,
	}
}

// Dispatch applies the §4.4 filter rules and routes the envelope.
func (d *Dispatcher) Dispatch(env model.Envelope) {
	if env.From == d.selfID {
		return
	}
	if env.To != "" && env.To != d.selfID {
		return
	}

	if d.handlers.OnLiveness != nil {
		d.handlers.OnLiveness(env.From)
	}

	switch env.Type {
	case model.MessagePong:
		// liveness already recorded above; nothing further to do.
		return
	case model.MessagePing:
		d.replyPong(env.From)
		return
	case model.MessageAnnounce:
		d.call(d.handlers.OnAnnounce, env)
	case model.MessageOffer:
		d.call(d.handlers.OnOffer, env)
	case model.MessageAnswer:
		d.call(d.handlers.OnAnswer, env)
	case model.MessageICECandidate:
		d.call(d.handlers.OnICECandidate, env)
	case model.MessageLeave:
		d.call(d.handlers.OnLeave, env)
	case model.MessageMuteStatus:
		d.call(d.handlers.OnMuteStatus, env)
	case model.MessageRoomLocked:
		d.call(d.handlers.OnRoomLocked, env)
	default:
		d.logger.Debug().Str("type", string(env.Type)).Msg("ignoring unknown envelope type")
	}
}

func (d *Dispatcher) call(h func(model.Envelope), env model.Envelope) {
	if h == nil {
		return
	}
	h(env)
}

func (d *Dispatcher) replyPong(to string) {
	d.sender.Send(model.Envelope{
		V:    model.EnvelopeVersion,
		Type: model.MessagePong,
		From: d.selfID,
		To:   to,
		TS:   time.Now().UnixMilli(),
	})
}

// Stamp assigns a msgId (if absent) and the sender's selfID/timestamp to an
// outbound envelope before it is handed to the transport.
func Stamp(env model.Envelope, selfID string) model.Envelope {
	env.From = selfID
	if env.MsgID == "" {
		env.MsgID = model.NewShortID()
	}
	if env.TS == 0 {
		env.TS = time.Now().UnixMilli()
	}
	if env.V == 0 {
		env.V = model.EnvelopeVersion
	}
	return env
}

// EncodeData marshals a typed payload into an envelope's Data field.
func EncodeData(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}

// DecodeData unmarshals an envelope's Data field into a typed payload.
func DecodeData(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
