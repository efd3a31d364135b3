/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string

	// Debug/status HTTP surface. Empty disables it.
	DebugBind string

	// Host bridge used by the credentials provider (§4.1). HostCredentialsURL
	// is the preferred secure session endpoint; the legacy pair is used only
	// when it is unset.
	HostCredentialsURL string
	HostLegacyICEURL   string
	HostLegacyMQTTURL  string

	// Same-origin multicast transport (§4.4). Empty disables it.
	MulticastNATSURL string

	// Tracing configuration.
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	MetricsBind string

	// Room defaults.
	HeartbeatPingInterval time.Duration
	HeartbeatTimeout      time.Duration
	NewConnectionStaleMs  int

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"P2PCONF_ENV"}, "development"),

		DebugBind: getEnvAny([]string{"P2PCONF_DEBUG_BIND"}, ""),

		HostCredentialsURL: getEnvAny([]string{"P2PCONF_HOST_CREDENTIALS_URL"}, ""),
		HostLegacyICEURL:   getEnvAny([]string{"P2PCONF_HOST_ICE_URL"}, ""),
		HostLegacyMQTTURL:  getEnvAny([]string{"P2PCONF_HOST_MQTT_URL"}, ""),

		MulticastNATSURL: getEnvAny([]string{"P2PCONF_MULTICAST_NATS_URL"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"P2PCONF_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"P2PCONF_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"P2PCONF_TRACING_SAMPLE_RATE"}, 1.0),

		MetricsBind: getEnvAny([]string{"P2PCONF_METRICS_BIND"}, "127.0.0.1:9090"),

		HeartbeatPingInterval: time.Duration(getEnvIntAny([]string{"P2PCONF_HEARTBEAT_PING_INTERVAL_S"}, 5)) * time.Second,
		HeartbeatTimeout:      time.Duration(getEnvIntAny([]string{"P2PCONF_HEARTBEAT_TIMEOUT_S"}, 15)) * time.Second,
		NewConnectionStaleMs:  getEnvIntAny([]string{"P2PCONF_NEW_CONNECTION_STALE_MS"}, 15000),
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.HostCredentialsURL == "" && cfg.HostLegacyICEURL == "" {
		return nil, fmt.Errorf("P2PCONF_HOST_CREDENTIALS_URL or P2PCONF_HOST_ICE_URL must be set in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"RLM_ENV":         "use P2PCONF_ENV",
		"TRACING_ENABLED": "use P2PCONF_TRACING_ENABLED",
		"OTLP_ENDPOINT":   "use P2PCONF_OTLP_ENDPOINT",
		"METRICS_BIND":    "use P2PCONF_METRICS_BIND",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
