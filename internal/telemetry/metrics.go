/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry wires the engine's Prometheus metrics and OpenTelemetry
// tracing, matching the teacher's pattern of a single package exposing
// package-level collectors plus a constructor-supplied handler/middleware.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric label cardinality is kept low throughout this file: per-broker-URL
// and per-quality-grade labels only, never per-peer-id, to avoid unbounded
// series as rooms churn through peers (SPEC_FULL's domain-stack note).
var (
	// DedupDropsTotal counts envelopes discarded by the multi-broker
	// transport's dedup cache (§4.3.1).
	DedupDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "p2pconf_dedup_drops_total",
		Help: "Envelopes dropped by the dedup cache as duplicates across brokers.",
	})

	// BrokerReconnectAttemptsTotal counts reconnect attempts per broker URL
	// (§4.3's exponential backoff loop).
	BrokerReconnectAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pconf_broker_reconnect_attempts_total",
		Help: "MQTT broker reconnect attempts, labeled by broker URL.",
	}, []string{"broker_url"})

	// BrokerConnectedGauge reports 1/0 connection state per broker URL.
	BrokerConnectedGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "p2pconf_broker_connected",
		Help: "Whether a configured MQTT broker is currently connected (1) or not (0).",
	}, []string{"broker_url"})

	// ActivePeersGauge reports the current size of the room's peer map.
	ActivePeersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "p2pconf_active_peers",
		Help: "Number of peers currently tracked in the active room.",
	})

	// PeerQualityGauge reports the count of peers currently graded at each
	// quality level (§4.8), rather than a per-peer series.
	PeerQualityGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "p2pconf_peer_quality",
		Help: "Number of peers currently at each connection-quality grade.",
	}, []string{"grade"})

	// ICERestartAttemptsTotal counts ICE restart attempts (§4.5.1).
	ICERestartAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "p2pconf_ice_restart_attempts_total",
		Help: "Total ICE restart attempts issued across all peers.",
	})

	// NetworkReconnectAttemptsTotal counts the network supervisor's
	// attemptNetworkReconnect calls (§4.10).
	NetworkReconnectAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "p2pconf_network_reconnect_attempts_total",
		Help: "Total network-recovery reconnect attempts.",
	})

	// DebugRequestsTotal counts requests served by the debug HTTP surface,
	// labeled by route and status code.
	DebugRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "p2pconf_debug_requests_total",
		Help: "Requests served by the local debug/status HTTP surface.",
	}, []string{"route", "status"})
)

// registry is package-scoped (not the global default registerer) so tests
// can construct an engine repeatedly without "duplicate metrics collector
// registration" panics.
var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		DedupDropsTotal,
		BrokerReconnectAttemptsTotal,
		BrokerConnectedGauge,
		ActivePeersGauge,
		PeerQualityGauge,
		ICERestartAttemptsTotal,
		NetworkReconnectAttemptsTotal,
		DebugRequestsTotal,
	)
}

// Handler exposes the engine's metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
