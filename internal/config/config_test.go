package config

import "testing"

func TestLoadDefaultsToDevelopment(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != "development" {
		t.Fatalf("unexpected environment: %q", cfg.Environment)
	}
	if cfg.HeartbeatPingInterval.Seconds() != 5 {
		t.Fatalf("unexpected heartbeat ping interval: %v", cfg.HeartbeatPingInterval)
	}
	if cfg.HeartbeatTimeout.Seconds() != 15 {
		t.Fatalf("unexpected heartbeat timeout: %v", cfg.HeartbeatTimeout)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRequiresHostCredentialsURL(t *testing.T) {
	t.Setenv("P2PCONF_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a host credentials URL")
	}

	t.Setenv("P2PCONF_HOST_CREDENTIALS_URL", "https://host.local/session-credentials")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with host credentials URL to succeed: %v", err)
	}
}
