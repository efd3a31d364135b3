/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var reconnectAddr string

// reconnectCmd implements §4.11's manualReconnect as an operator tool: it
// asks an already-running p2pconfd's debug surface to tear down and rebuild
// its broker transport, rather than reaching into the daemon's in-process
// state (which a separate CLI invocation never shares with runServe).
var reconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Trigger a manual network reconnect on a running p2pconfd",
	RunE:  runReconnect,
}

func init() {
	reconnectCmd.Flags().StringVar(&reconnectAddr, "addr", "http://127.0.0.1:9090", "debug server address of the running p2pconfd")
}

func runReconnect(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reconnectAddr+"/debug/reconnect", nil)
	if err != nil {
		return fmt.Errorf("build reconnect request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reconnect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("reconnect request returned status %s", resp.Status)
	}

	fmt.Println("reconnect triggered")
	return nil
}
