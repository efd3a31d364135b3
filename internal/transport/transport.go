/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package transport fans a set of MQTT broker connections out in parallel
// (§4.3), deduplicates inbound delivery across them, and drives the
// reconnect-with-backoff policy for accidental disconnects.
package transport

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/mqttc"
	"github.com/friendsincode/p2pconf/internal/telemetry"
)

const maxReconnectAttempts = 5

// brokerClient is the subset of *mqttc.Client the transport depends on,
// narrowed so tests can substitute a fake.
type brokerClient interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, handler mqttc.MessageHandler) bool
	Publish(ctx context.Context, topic string, payload []byte) bool
	Disconnect()
	SetOnDisconnect(cb func(url string))
	IsConnected() bool
	IsSubscribed() bool
	MessageCount() uint64
}

type brokerState struct {
	url              string
	client           brokerClient
	subscribed       bool
	reconnectAttempt int
	reconnectTimer   *time.Timer
}

// Transport owns one brokerClient per configured broker plus the shared
// dedup cache.
type Transport struct {
	logger zerolog.Logger
	dedup  *Dedup

	mu      sync.Mutex
	brokers map[string]*brokerState

	onReconnect func(url string)

	newClient func(cred model.BrokerCredential) brokerClient
}

// New constructs a Transport. newClient is exposed for tests; production
// callers pass nil to use mqttc.Client with each broker's credentials.
func New(logger zerolog.Logger, newClient func(cred model.BrokerCredential) brokerClient) *Transport {
	t := &Transport{
		logger:  logger.With().Str("component", "transport").Logger(),
		dedup:   NewDedup(logger),
		brokers: make(map[string]*brokerState),
	}
	if newClient != nil {
		t.newClient = newClient
	} else {
		t.newClient = func(cred model.BrokerCredential) brokerClient {
			return mqttc.New(cred.URL, model.NewSelfID(), cred.Username, cred.Password, logger)
		}
	}
	return t
}

// SetOnReconnect registers the hook fired after a broker reconnects and
// successfully resubscribes to every previously-subscribed topic.
func (t *Transport) SetOnReconnect(cb func(url string)) {
	t.mu.Lock()
	t.onReconnect = cb
	t.mu.Unlock()
}

// Close stops the dedup cleaner and disconnects every broker.
func (t *Transport) Close() {
	t.dedup.Stop()
	t.DisconnectAll()
}

// DisconnectAll disconnects every broker and clears the broker set, leaving
// the dedup cache running. The network supervisor's reconnect path (§4.10)
// uses this to tear the transport down before re-running ConnectAll.
func (t *Transport) DisconnectAll() {
	t.mu.Lock()
	brokers := make([]*brokerState, 0, len(t.brokers))
	for _, b := range t.brokers {
		brokers = append(brokers, b)
	}
	t.brokers = make(map[string]*brokerState)
	t.mu.Unlock()

	for _, b := range brokers {
		if b.reconnectTimer != nil {
			b.reconnectTimer.Stop()
		}
		b.client.Disconnect()
		telemetry.BrokerConnectedGauge.WithLabelValues(b.url).Set(0)
	}
}

// ConnectAll connects to every configured broker in parallel with
// Promise.allSettled semantics (§4.3): it waits for all attempts and
// returns the URLs that succeeded.
func (t *Transport) ConnectAll(ctx context.Context, creds []model.BrokerCredential) []string {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok []string
	)

	for _, cred := range creds {
		wg.Add(1)
		go func(cred model.BrokerCredential) {
			defer wg.Done()
			client := t.newClient(cred)
			client.SetOnDisconnect(t.handleDisconnect)

			if err := client.Connect(ctx); err != nil {
				t.logger.Warn().Err(err).Str("broker", cred.URL).Msg("broker connect failed")
				return
			}

			state := &brokerState{url: cred.URL, client: client}
			t.mu.Lock()
			t.brokers[cred.URL] = state
			t.mu.Unlock()
			telemetry.BrokerConnectedGauge.WithLabelValues(cred.URL).Set(1)

			mu.Lock()
			ok = append(ok, cred.URL)
			mu.Unlock()
		}(cred)
	}
	wg.Wait()
	return ok
}

// WrapEnvelopeHandler applies the shared inbound filter — envelope version
// check plus the dedup cache — in front of cb. Every transport that can
// deliver rendezvous envelopes (broker subscriptions here, the same-origin
// multicast channel in §4.4) must route through this so an envelope carried
// on more than one transport dispatches exactly once.
func (t *Transport) WrapEnvelopeHandler(cb func(model.Envelope)) func(model.Envelope) {
	return func(env model.Envelope) {
		if env.V != model.EnvelopeVersion {
			t.logger.Debug().Int("v", env.V).Msg("dropping envelope with unknown version")
			return
		}
		if t.dedup.IsDuplicate(env.MsgID) {
			return
		}
		cb(env)
	}
}

// SubscribeAll wraps cb with JSON decode + dedup and subscribes it on every
// connected broker. Returns the number of successful subscriptions.
func (t *Transport) SubscribeAll(ctx context.Context, topic string, cb func(model.Envelope)) int {
	deduped := t.WrapEnvelopeHandler(cb)
	wrapped := func(payload []byte) {
		var env model.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.logger.Debug().Err(err).Msg("dropping malformed inbound envelope")
			return
		}
		deduped(env)
	}

	t.mu.Lock()
	states := make([]*brokerState, 0, len(t.brokers))
	for _, b := range t.brokers {
		states = append(states, b)
	}
	t.mu.Unlock()

	successes := 0
	for _, b := range states {
		if b.client.Subscribe(ctx, topic, wrapped) {
			t.mu.Lock()
			b.subscribed = true
			t.mu.Unlock()
			successes++
		}
	}
	return successes
}

// Publish emits payload on topic on every broker that is both connected and
// subscribed, returning the number of successful sends (§4.3).
func (t *Transport) Publish(ctx context.Context, topic string, payload []byte) int {
	t.mu.Lock()
	states := make([]*brokerState, 0, len(t.brokers))
	for _, b := range t.brokers {
		states = append(states, b)
	}
	t.mu.Unlock()

	sent := 0
	for _, b := range states {
		if !b.client.IsConnected() || !b.subscribed {
			continue
		}
		if b.client.Publish(ctx, topic, payload) {
			sent++
		}
	}
	return sent
}

// BrokerInfos snapshots every broker's connection, subscription, and
// delivery state for the façade's debug accessor.
func (t *Transport) BrokerInfos() []model.BrokerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.BrokerInfo, 0, len(t.brokers))
	for _, b := range t.brokers {
		out = append(out, model.BrokerInfo{
			URL:          b.url,
			Connected:    b.client.IsConnected(),
			Subscribed:   b.subscribed,
			MessageCount: b.client.MessageCount(),
		})
	}
	return out
}

// ConnectedCount reports how many brokers are currently connected.
func (t *Transport) ConnectedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.brokers {
		if b.client.IsConnected() {
			n++
		}
	}
	return n
}

func (t *Transport) handleDisconnect(url string) {
	telemetry.BrokerConnectedGauge.WithLabelValues(url).Set(0)
	t.mu.Lock()
	state, ok := t.brokers[url]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.scheduleReconnect(state)
}

// scheduleReconnect implements §4.3's backoff: min(2000*2^(n-1), 30000) +
// uniform(0, 1000) ms, up to maxReconnectAttempts.
func (t *Transport) scheduleReconnect(state *brokerState) {
	t.mu.Lock()
	state.reconnectAttempt++
	attempt := state.reconnectAttempt
	t.mu.Unlock()

	if attempt > maxReconnectAttempts {
		t.logger.Error().Str("broker", state.url).Msg("broker reconnect attempts exhausted")
		return
	}
	telemetry.BrokerReconnectAttemptsTotal.WithLabelValues(state.url).Inc()

	backoffMs := 2000 * (1 << uint(attempt-1))
	if backoffMs > 30000 {
		backoffMs = 30000
	}
	delay := time.Duration(backoffMs)*time.Millisecond + time.Duration(rand.Intn(1000))*time.Millisecond

	timer := time.AfterFunc(delay, func() { t.attemptReconnect(state) })
	t.mu.Lock()
	state.reconnectTimer = timer
	t.mu.Unlock()
}

func (t *Transport) attemptReconnect(state *brokerState) {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	if err := state.client.Connect(ctx); err != nil {
		t.logger.Warn().Err(err).Str("broker", state.url).Msg("reconnect attempt failed")
		t.scheduleReconnect(state)
		return
	}
	telemetry.BrokerConnectedGauge.WithLabelValues(state.url).Set(1)

	// A bare reconnect without resubscribing every prior topic is a
	// dropped delivery path; the façade resubscribes via onReconnect and
	// reports success back through MarkReconnected.
	t.mu.Lock()
	cb := t.onReconnect
	t.mu.Unlock()
	if cb != nil {
		cb(state.url)
	}
}

// MarkReconnected resets a broker's attempt counter once the caller has
// confirmed both reconnect and resubscribe succeeded (§4.3). A failed
// resubscribe should instead call ScheduleReconnect again.
func (t *Transport) MarkReconnected(url string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.brokers[url]; ok {
		b.reconnectAttempt = 0
	}
}

// ScheduleReconnect re-arms the backoff for url, used when a post-reconnect
// resubscribe attempt fails (§4.3: "failed resubscribe reschedules as
// another disconnect").
func (t *Transport) ScheduleReconnect(url string) {
	t.mu.Lock()
	state, ok := t.brokers[url]
	t.mu.Unlock()
	if ok {
		t.scheduleReconnect(state)
	}
}
