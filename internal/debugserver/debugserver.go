/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package debugserver exposes the conference façade's read-only accessors
// (getDebugInfo, getConnectionStats, getNetworkStatus, getSignalingState)
// over a local chi router, gated by Config.DebugBind exactly like the
// teacher's MetricsBind-gated pattern (SPEC_FULL's supplemented features).
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/telemetry"
)

// Facade is the narrow slice of the conference manager's read accessors the
// debug server needs.
type Facade interface {
	DebugInfo() model.DebugInfo
	ConnectionStats() []model.ConnectionStats
	NetworkStatus() model.NetworkStatus
	SignalingState() model.SignalingState
	ManualReconnect(ctx context.Context)
}

// Server wraps an *http.Server bound to Config.DebugBind.
type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// New builds the router. An empty bind address disables the surface
// entirely (§SPEC_FULL: "off unless explicitly bound").
func New(bind string, facade Facade, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "debugserver").Logger()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.MetricsMiddleware)

	router.Get("/metrics", telemetry.Handler().ServeHTTP)
	router.Get("/debug", jsonHandler(func() any { return facade.DebugInfo() }))
	router.Get("/debug/connections", jsonHandler(func() any { return facade.ConnectionStats() }))
	router.Get("/debug/network", jsonHandler(func() any { return facade.NetworkStatus() }))
	router.Get("/debug/signaling", jsonHandler(func() any { return facade.SignalingState() }))
	router.Post("/debug/reconnect", func(w http.ResponseWriter, r *http.Request) {
		facade.ManualReconnect(r.Context())
		w.WriteHeader(http.StatusAccepted)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              bind,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func jsonHandler(fn func() any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fn())
	}
}

// Start listens and serves in the background. It reports the actual bound
// address (useful when Config.DebugBind uses port 0) and returns an error
// only if the listener itself cannot be created.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("listen on debug bind %q: %w", s.httpServer.Addr, err)
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("debug server stopped unexpectedly")
		}
	}()

	return ln.Addr().String(), nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
