/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package network implements §4.10's network-recovery supervisor:
// reconciling OS-level online/offline transitions with in-room presence,
// bounded reconnection of the broker transport, and re-announcement.
package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/telemetry"
)

// ErrMaxReconnectAttemptsExceeded is surfaced via onError(network-reconnect)
// once the supervisor has exhausted its attempt budget (§4.10, §7).
var ErrMaxReconnectAttemptsExceeded = errors.New("network_reconnect_failed")

const (
	maxReconnectAttempts = 5
	stabilizationDelay   = 2 * time.Second
)

// Reconnector performs the actual broker teardown/reconnect/resubscribe and
// re-announce cycle. The conference façade implements this; Supervisor only
// owns the attempt bookkeeping and online/offline reconciliation.
type Reconnector interface {
	// InRoom reports whether the façade currently considers itself joined
	// to a room; attemptReconnect aborts immediately when false.
	InRoom() bool
	// Reconnect tears down and rebuilds the broker transport, resubscribes,
	// and re-announces presence. A non-nil error counts as a failed attempt.
	Reconnect(ctx context.Context) error
}

// Supervisor tracks IsOnline/WasInRoomWhenOffline/ReconnectAttempts (§3's
// NetworkState) and drives the stabilization-delay + bounded-retry
// reconnect policy of §4.10.
type Supervisor struct {
	reconnector Reconnector
	onError     func(kind string, context string)
	onStatus    func(online bool)
	logger      zerolog.Logger

	mu                   sync.Mutex
	isOnline             bool
	wasInRoomWhenOffline bool
	reconnectAttempts    int
	stabilizeTimer       *time.Timer
}

// New constructs a Supervisor, assumed online until told otherwise.
func New(reconnector Reconnector, onError func(kind, context string), onStatus func(online bool), logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		reconnector: reconnector,
		onError:     onError,
		onStatus:    onStatus,
		isOnline:    true,
		logger:      logger.With().Str("component", "network").Logger(),
	}
}

// HandleOffline implements §4.10's "on offline" rule.
func (s *Supervisor) HandleOffline() {
	s.mu.Lock()
	s.isOnline = false
	if s.reconnector.InRoom() {
		s.wasInRoomWhenOffline = true
	}
	s.mu.Unlock()

	if s.onStatus != nil {
		s.onStatus(false)
	}
}

// HandleOnline implements §4.10's "on online" rule: a 2s stabilization
// delay before the first reconnect attempt, only when we were in a room
// when connectivity dropped.
func (s *Supervisor) HandleOnline() {
	s.mu.Lock()
	s.isOnline = true
	shouldReconnect := s.wasInRoomWhenOffline
	s.mu.Unlock()

	if s.onStatus != nil {
		s.onStatus(true)
	}
	if !shouldReconnect {
		return
	}

	s.mu.Lock()
	if s.stabilizeTimer != nil {
		s.stabilizeTimer.Stop()
	}
	s.stabilizeTimer = time.AfterFunc(stabilizationDelay, func() {
		s.AttemptReconnect(context.Background())
	})
	s.mu.Unlock()
}

// AttemptReconnect implements §4.10's attemptNetworkReconnect: it aborts if
// offline or not in a room, otherwise increments the attempt counter and
// drives the reconnector, resetting state on success and giving up (with an
// onError) past maxReconnectAttempts.
func (s *Supervisor) AttemptReconnect(ctx context.Context) {
	s.mu.Lock()
	online := s.isOnline
	inRoom := s.reconnector.InRoom()
	s.mu.Unlock()

	if !online || !inRoom {
		return
	}

	s.mu.Lock()
	s.reconnectAttempts++
	attempt := s.reconnectAttempts
	s.mu.Unlock()
	telemetry.NetworkReconnectAttemptsTotal.Inc()

	if attempt > maxReconnectAttempts {
		s.mu.Lock()
		s.reconnectAttempts = 0
		s.wasInRoomWhenOffline = false
		s.mu.Unlock()
		s.logger.Error().Msg("network reconnect attempts exhausted")
		if s.onError != nil {
			s.onError("network-reconnect", ErrMaxReconnectAttemptsExceeded.Error())
		}
		return
	}

	if err := s.reconnector.Reconnect(ctx); err != nil {
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("network reconnect attempt failed")
		return
	}

	s.mu.Lock()
	s.reconnectAttempts = 0
	s.wasInRoomWhenOffline = false
	s.mu.Unlock()
}

// ManualReconnect implements §4.10's user-triggered manualReconnect: a
// no-op outside a room, otherwise an immediate reset-and-retry.
func (s *Supervisor) ManualReconnect(ctx context.Context) {
	if !s.reconnector.InRoom() {
		return
	}
	s.mu.Lock()
	s.reconnectAttempts = 0
	s.mu.Unlock()
	s.AttemptReconnect(ctx)
}

// Status returns the façade's getNetworkStatus accessor fields.
func (s *Supervisor) Status() (isOnline, wasInRoomWhenOffline bool, reconnectAttempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isOnline, s.wasInRoomWhenOffline, s.reconnectAttempts
}

// Reset clears all network state, used on explicit leaveRoom (§4.10:
// "attempts reset to 0 on success or explicit leave").
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stabilizeTimer != nil {
		s.stabilizeTimer.Stop()
		s.stabilizeTimer = nil
	}
	s.reconnectAttempts = 0
	s.wasInRoomWhenOffline = false
}
