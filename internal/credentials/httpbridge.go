/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/friendsincode/p2pconf/internal/model"
)

// HTTPBridge talks to the host process over loopback HTTP, matching the
// shape of a typical embedding application's local control-plane endpoint.
// Any URL left empty marks that RPC as not advertised.
type HTTPBridge struct {
	SecureURL    string
	LegacyICEURL string
	LegacyMQTTURL string

	client *http.Client
}

// NewHTTPBridge constructs a bridge with the teacher's standard 10s client
// timeout for outbound host calls.
func NewHTTPBridge(secureURL, legacyICEURL, legacyMQTTURL string) *HTTPBridge {
	return &HTTPBridge{
		SecureURL:     secureURL,
		LegacyICEURL:  legacyICEURL,
		LegacyMQTTURL: legacyMQTTURL,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *HTTPBridge) SecureSessionCredentials(ctx context.Context) (*model.SessionCredentials, error) {
	if b.SecureURL == "" {
		return nil, ErrNotAdvertised
	}
	var creds model.SessionCredentials
	if err := b.getJSON(ctx, b.SecureURL, &creds); err != nil {
		return nil, err
	}
	creds.Source = "secure-session-api"
	return &creds, nil
}

func (b *HTTPBridge) LegacyICEServers(ctx context.Context) ([]model.ICEServer, error) {
	if b.LegacyICEURL == "" {
		return nil, ErrNotAdvertised
	}
	var wrapper struct {
		ICEServers []model.ICEServer `json:"iceServers"`
	}
	if err := b.getJSON(ctx, b.LegacyICEURL, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.ICEServers, nil
}

func (b *HTTPBridge) LegacyMQTTBrokers(ctx context.Context) ([]model.BrokerCredential, error) {
	if b.LegacyMQTTURL == "" {
		return nil, ErrNotAdvertised
	}
	var wrapper struct {
		MQTTBrokers []model.BrokerCredential `json:"mqttBrokers"`
	}
	if err := b.getJSON(ctx, b.LegacyMQTTURL, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.MQTTBrokers, nil
}

func (b *HTTPBridge) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build host request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("host request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("host returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode host response: %w", err)
	}
	return nil
}
