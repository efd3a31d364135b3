/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package credentials implements the credentials provider of §4.1: a single
// typed call into the host process for ICE servers and MQTT brokers, with a
// legacy two-call fallback and embedded built-in defaults.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/p2pconf/internal/model"
)

// ErrCredentialsUnavailable is returned when the host advertises the secure
// session API but the payload is incomplete — the engine fails closed rather
// than silently falling back to defaults in that case (§4.1, §7).
var ErrCredentialsUnavailable = errors.New("credentials_unavailable")

// ErrNotAdvertised is returned by a HostBridge method when the corresponding
// host RPC is not configured. It is not a failure: the provider treats it as
// "this path does not apply" rather than "this call errored".
var ErrNotAdvertised = errors.New("host api not advertised")

// HostBridge is the narrow contract to the host process (§6's Credential
// RPC). A production bridge talks to a local IPC/HTTP endpoint exposed by
// the embedding application; tests supply a fake.
type HostBridge interface {
	SecureSessionCredentials(ctx context.Context) (*model.SessionCredentials, error)
	LegacyICEServers(ctx context.Context) ([]model.ICEServer, error)
	LegacyMQTTBrokers(ctx context.Context) ([]model.BrokerCredential, error)
}

// Provider caches the result of loading credentials and collapses concurrent
// callers onto a single in-flight request.
type Provider struct {
	bridge   HostBridge
	logger   zerolog.Logger
	defaults model.SessionCredentials

	mu     sync.Mutex
	cached *model.SessionCredentials
	group  singleflight.Group
}

// New constructs a Provider, loading the embedded built-in defaults.
func New(bridge HostBridge, logger zerolog.Logger) (*Provider, error) {
	defaults, err := loadEmbeddedDefaults()
	if err != nil {
		return nil, fmt.Errorf("load embedded credential defaults: %w", err)
	}
	return &Provider{
		bridge:   bridge,
		logger:   logger.With().Str("component", "credentials").Logger(),
		defaults: defaults,
	}, nil
}

// Load returns the cached credentials, fetching them on first call. Callers
// racing for the first load share a single request.
func (p *Provider) Load(ctx context.Context) (*model.SessionCredentials, error) {
	p.mu.Lock()
	if p.cached != nil {
		cached := p.cached
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	v, err, _ := p.group.Do("load", func() (any, error) {
		return p.load(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.SessionCredentials), nil
}

// ResetForTesting clears the cache. It exists only for test harnesses (§9).
func (p *Provider) ResetForTesting() {
	p.mu.Lock()
	p.cached = nil
	p.mu.Unlock()
}

func (p *Provider) load(ctx context.Context) (*model.SessionCredentials, error) {
	secure, err := p.bridge.SecureSessionCredentials(ctx)
	switch {
	case err == nil:
		if len(secure.ICEServers) == 0 || len(secure.MQTTBrokers) == 0 {
			p.logger.Error().Msg("secure session API returned incomplete credentials; failing closed")
			return nil, ErrCredentialsUnavailable
		}
		return p.store(secure), nil
	case !errors.Is(err, ErrNotAdvertised):
		p.logger.Error().Err(err).Msg("secure session API call failed; failing closed")
		return nil, fmt.Errorf("%w: %v", ErrCredentialsUnavailable, err)
	}

	ice, iceErr := p.bridge.LegacyICEServers(ctx)
	brokers, brokerErr := p.bridge.LegacyMQTTBrokers(ctx)

	if errors.Is(iceErr, ErrNotAdvertised) && errors.Is(brokerErr, ErrNotAdvertised) {
		p.logger.Debug().Msg("no host credential API advertised; using built-in defaults")
		defaults := p.defaults
		return p.store(&defaults), nil
	}
	if iceErr != nil && !errors.Is(iceErr, ErrNotAdvertised) {
		return nil, fmt.Errorf("legacy ICE servers call: %w", iceErr)
	}
	if brokerErr != nil && !errors.Is(brokerErr, ErrNotAdvertised) {
		return nil, fmt.Errorf("legacy MQTT brokers call: %w", brokerErr)
	}
	if len(ice) == 0 {
		ice = p.defaults.ICEServers
	}
	if len(brokers) == 0 {
		brokers = p.defaults.MQTTBrokers
	}

	return p.store(&model.SessionCredentials{
		ICEServers:  ice,
		MQTTBrokers: brokers,
		Source:      "legacy",
	}), nil
}

func (p *Provider) store(creds *model.SessionCredentials) *model.SessionCredentials {
	p.mu.Lock()
	p.cached = creds
	p.mu.Unlock()
	return creds
}
