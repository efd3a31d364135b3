/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/p2pconf/internal/config"
	"github.com/friendsincode/p2pconf/internal/credentials"
	"github.com/friendsincode/p2pconf/internal/debugserver"
	"github.com/friendsincode/p2pconf/internal/logging"
	"github.com/friendsincode/p2pconf/internal/manager"
	"github.com/friendsincode/p2pconf/internal/model"
	"github.com/friendsincode/p2pconf/internal/telemetry"
)

var (
	flagRoomID   string
	flagUserName string
	flagPlatform string
)

// rootCmd runs the conferencing engine as a standalone process: join one
// room, serve its debug/metrics surface, and leave on shutdown. This is the
// daemon entry point a host process launches and supervises, mirroring the
// teacher's single-binary HTTP-server daemon shape (cmd/grimnirradio).
var rootCmd = &cobra.Command{
	Use:   "p2pconfd",
	Short: "Serverless peer-to-peer conferencing engine",
	Long: `p2pconfd joins a single conferencing room as a peer, signaling over
one or more MQTT brokers and exchanging WebRTC media directly with the other
participants. Configuration is read from P2PCONF_* environment variables;
--room and --user-name select which room this process joins.`,
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVar(&flagRoomID, "room", "", "room id to join (required)")
	rootCmd.Flags().StringVar(&flagUserName, "user-name", "", "display name advertised to other peers (required)")
	rootCmd.Flags().StringVar(&flagPlatform, "platform", string(model.PlatformLinux), "platform advertised to other peers: win, mac, or linux")
	rootCmd.AddCommand(reconnectCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if flagRoomID == "" || flagUserName == "" {
		return fmt.Errorf("--room and --user-name are required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger := logging.Setup(cfg.Environment)
	logger.Info().Str("room_id", flagRoomID).Msg("p2pconfd starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tracerProvider *telemetry.TracerProvider
	tracerProvider, err = telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "p2pconfd",
		ServiceVersion: engineVersion,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing init failed, continuing without it")
	}

	bridge := credentials.NewHTTPBridge(cfg.HostCredentialsURL, cfg.HostLegacyICEURL, cfg.HostLegacyMQTTURL)
	credProvider, err := credentials.New(bridge, logger)
	if err != nil {
		return fmt.Errorf("init credentials provider: %w", err)
	}

	observer := newLogObserver(logger)
	mgr := manager.New(cfg, observer, credProvider, logger)

	var debugSrv *debugserver.Server
	if cfg.DebugBind != "" {
		debugSrv = debugserver.New(cfg.DebugBind, mgr, logger)
		addr, err := debugSrv.Start()
		if err != nil {
			return fmt.Errorf("start debug server: %w", err)
		}
		logger.Info().Str("addr", addr).Msg("debug server listening")
	}

	for _, warning := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warning)
	}

	joinCtx, cancelJoin := context.WithTimeout(ctx, 15*time.Second)
	err = mgr.JoinRoom(joinCtx, flagRoomID, flagUserName, model.Platform(flagPlatform))
	cancelJoin()
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	logger.Info().Str("self_id", mgr.SelfID()).Msg("joined room")

	activeManager = mgr

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	mgr.LeaveRoom()

	if debugSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := debugSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("debug server shutdown failed")
		}
		cancel()
	}

	if tracerProvider != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown failed")
		}
		cancel()
	}

	logger.Info().Msg("p2pconfd stopped")
	return nil
}

// activeManager holds the façade of the room runServe joined. No code reads
// it: reconnectCmd runs in a separate process and reaches the daemon through
// its debug HTTP surface (POST /debug/reconnect), not through this variable.
var activeManager *manager.Manager

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
