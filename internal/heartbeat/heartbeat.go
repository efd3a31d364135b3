/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package heartbeat implements §4.7's per-peer liveness tracking: a 5s
// ping tick, a 15s staleness timeout, and activity recording driven by any
// inbound message.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	tickInterval = 5 * time.Second
	pingInterval = 5 * time.Second
	timeout      = 15 * time.Second
)

// Sender issues the directed ping envelope for a peer. The concrete
// implementation lives in the conference façade, which owns the transport.
type Sender interface {
	SendPing(peerID string) bool
}

type peerLiveness struct {
	lastSeen time.Time
	lastPing time.Time
}

// Monitor runs the tick loop of §4.7 for every peer currently tracked by
// the conference façade.
type Monitor struct {
	sender  Sender
	onStale func(peerID string)
	logger  zerolog.Logger

	pingEvery  time.Duration
	staleAfter time.Duration

	mu     sync.Mutex
	peers  map[string]*peerLiveness
	stopCh chan struct{}
	ticker *time.Ticker
	once   sync.Once
}

// New constructs a Monitor. onStale is invoked (off the tick goroutine's
// lock) once per peer whose lastSeen has aged past the staleness timeout.
func New(sender Sender, onStale func(peerID string), logger zerolog.Logger) *Monitor {
	return &Monitor{
		sender:     sender,
		onStale:    onStale,
		logger:     logger.With().Str("component", "heartbeat").Logger(),
		pingEvery:  pingInterval,
		staleAfter: timeout,
		peers:      make(map[string]*peerLiveness),
	}
}

// SetIntervals overrides the ping cadence and staleness timeout before
// Start. Zero values keep the defaults.
func (m *Monitor) SetIntervals(pingEvery, staleAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pingEvery > 0 {
		m.pingEvery = pingEvery
	}
	if staleAfter > 0 {
		m.staleAfter = staleAfter
	}
}

// Start begins the 5s tick loop. Safe to call once per Monitor lifetime;
// a room rejoin should construct a fresh Monitor.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.ticker != nil {
		m.mu.Unlock()
		return
	}
	m.ticker = time.NewTicker(tickInterval)
	m.stopCh = make(chan struct{})
	ticker := m.ticker
	stopCh := m.stopCh
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-stopCh:
				return
			}
		}
	}()
}

// Stop halts the tick loop. Idempotent.
func (m *Monitor) Stop() {
	m.once.Do(func() {
		m.mu.Lock()
		if m.ticker != nil {
			m.ticker.Stop()
		}
		if m.stopCh != nil {
			close(m.stopCh)
		}
		m.mu.Unlock()
	})
}

// TrackPeer registers a peer id with the monitor, initializing its
// lastSeen/lastPing to now if absent (§4.7's "for each peer missing from
// lastSeen, initialize to now").
func (m *Monitor) TrackPeer(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[peerID]; !ok {
		now := time.Now()
		m.peers[peerID] = &peerLiveness{lastSeen: now, lastPing: now}
	}
}

// Forget drops a peer from liveness tracking, called from the peer cleanup
// path so a removed peer is never re-evaluated by a future tick.
func (m *Monitor) Forget(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, peerID)
}

// RecordActivity marks peerID as seen now. Any inbound message — ping,
// pong, or any routed envelope — calls this (§4.7's closing rule).
func (m *Monitor) RecordActivity(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, ok := m.peers[peerID]
	if !ok {
		now := time.Now()
		m.peers[peerID] = &peerLiveness{lastSeen: now, lastPing: now}
		return
	}
	pl.lastSeen = time.Now()
}

func (m *Monitor) tick() {
	now := time.Now()

	var stale []string
	var toPing []string

	m.mu.Lock()
	for id, pl := range m.peers {
		if now.Sub(pl.lastSeen) >= m.staleAfter {
			stale = append(stale, id)
			continue
		}
		if now.Sub(pl.lastPing) >= m.pingEvery {
			pl.lastPing = now
			toPing = append(toPing, id)
		}
	}
	for _, id := range stale {
		delete(m.peers, id)
	}
	m.mu.Unlock()

	for _, id := range toPing {
		if m.sender != nil && !m.sender.SendPing(id) {
			m.logger.Debug().Str("peer_id", id).Msg("failed to send heartbeat ping")
		}
	}

	for _, id := range stale {
		m.logger.Info().Str("peer_id", id).Msg("peer liveness timed out")
		if m.onStale != nil {
			m.onStale(id)
		}
	}
}
