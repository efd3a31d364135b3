package credentials

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
)

type fakeBridge struct {
	secureCalls int32

	secure    *model.SessionCredentials
	secureErr error

	legacyICE    []model.ICEServer
	legacyICEErr error

	legacyBrokers    []model.BrokerCredential
	legacyBrokersErr error
}

func (f *fakeBridge) SecureSessionCredentials(ctx context.Context) (*model.SessionCredentials, error) {
	atomic.AddInt32(&f.secureCalls, 1)
	if f.secureErr != nil {
		return nil, f.secureErr
	}
	return f.secure, nil
}

func (f *fakeBridge) LegacyICEServers(ctx context.Context) ([]model.ICEServer, error) {
	return f.legacyICE, f.legacyICEErr
}

func (f *fakeBridge) LegacyMQTTBrokers(ctx context.Context) ([]model.BrokerCredential, error) {
	return f.legacyBrokers, f.legacyBrokersErr
}

func newTestProvider(t *testing.T, bridge HostBridge) *Provider {
	t.Helper()
	p, err := New(bridge, zerolog.Nop())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return p
}

func TestLoadPrefersSecureSessionAPI(t *testing.T) {
	bridge := &fakeBridge{
		secure: &model.SessionCredentials{
			ICEServers:  []model.ICEServer{{URLs: []string{"stun:a"}}},
			MQTTBrokers: []model.BrokerCredential{{URL: "wss://broker"}},
		},
		legacyICEErr:     ErrNotAdvertised,
		legacyBrokersErr: ErrNotAdvertised,
	}
	p := newTestProvider(t, bridge)

	creds, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(creds.ICEServers) != 1 || creds.ICEServers[0].URLs[0] != "stun:a" {
		t.Fatalf("unexpected ICE servers: %+v", creds.ICEServers)
	}
}

func TestLoadFailsClosedOnIncompleteSecurePayload(t *testing.T) {
	bridge := &fakeBridge{
		secure: &model.SessionCredentials{
			ICEServers:  []model.ICEServer{{URLs: []string{"stun:a"}}},
			MQTTBrokers: nil,
		},
	}
	p := newTestProvider(t, bridge)

	_, err := p.Load(context.Background())
	if !errors.Is(err, ErrCredentialsUnavailable) {
		t.Fatalf("expected ErrCredentialsUnavailable, got %v", err)
	}
}

func TestLoadFallsBackToLegacyAPI(t *testing.T) {
	bridge := &fakeBridge{
		secureErr:     ErrNotAdvertised,
		legacyICE:     []model.ICEServer{{URLs: []string{"stun:legacy"}}},
		legacyBrokers: []model.BrokerCredential{{URL: "wss://legacy-broker"}},
	}
	p := newTestProvider(t, bridge)

	creds, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if creds.Source != "legacy" {
		t.Fatalf("expected legacy source, got %q", creds.Source)
	}
	if creds.ICEServers[0].URLs[0] != "stun:legacy" {
		t.Fatalf("unexpected ICE servers: %+v", creds.ICEServers)
	}
}

func TestLoadLegacyFillsGapsFromBuiltInDefaults(t *testing.T) {
	bridge := &fakeBridge{
		secureErr:        ErrNotAdvertised,
		legacyICE:        nil,
		legacyBrokers:    []model.BrokerCredential{{URL: "wss://legacy-broker"}},
		legacyICEErr:     nil,
		legacyBrokersErr: nil,
	}
	p := newTestProvider(t, bridge)

	creds, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(creds.ICEServers) == 0 {
		t.Fatal("expected built-in ICE servers to fill the gap")
	}
	if creds.ICEServers[0].URLs[0] == "" {
		t.Fatal("expected a non-empty default STUN URL")
	}
}

func TestLoadFallsBackToBuiltInDefaultsWhenNoAPIAdvertised(t *testing.T) {
	bridge := &fakeBridge{
		secureErr:        ErrNotAdvertised,
		legacyICEErr:     ErrNotAdvertised,
		legacyBrokersErr: ErrNotAdvertised,
	}
	p := newTestProvider(t, bridge)

	creds, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if creds.Source != "built-in-defaults" {
		t.Fatalf("expected built-in-defaults source, got %q", creds.Source)
	}
	if len(creds.ICEServers) == 0 || len(creds.MQTTBrokers) == 0 {
		t.Fatal("expected non-empty built-in defaults")
	}
}

func TestLoadCachesAndCollapsesConcurrentCallers(t *testing.T) {
	bridge := &fakeBridge{
		secure: &model.SessionCredentials{
			ICEServers:  []model.ICEServer{{URLs: []string{"stun:a"}}},
			MQTTBrokers: []model.BrokerCredential{{URL: "wss://broker"}},
		},
	}
	p := newTestProvider(t, bridge)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Load(context.Background()); err != nil {
				t.Errorf("concurrent load: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := atomic.LoadInt32(&bridge.secureCalls); calls != 1 {
		t.Fatalf("expected exactly 1 secure call across concurrent loaders, got %d", calls)
	}
}

func TestResetForTestingClearsCache(t *testing.T) {
	bridge := &fakeBridge{
		secure: &model.SessionCredentials{
			ICEServers:  []model.ICEServer{{URLs: []string{"stun:a"}}},
			MQTTBrokers: []model.BrokerCredential{{URL: "wss://broker"}},
		},
	}
	p := newTestProvider(t, bridge)

	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	p.ResetForTesting()

	if _, err := p.Load(context.Background()); err != nil {
		t.Fatalf("load after reset: %v", err)
	}
	if calls := atomic.LoadInt32(&bridge.secureCalls); calls != 2 {
		t.Fatalf("expected 2 secure calls after reset, got %d", calls)
	}
}
