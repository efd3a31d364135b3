/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesDomainMetrics(t *testing.T) {
	DedupDropsTotal.Add(3)
	ActivePeersGauge.Set(2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "p2pconf_dedup_drops_total") {
		t.Fatalf("expected dedup drop metric in output, got:\n%s", body)
	}
	if !strings.Contains(body, "p2pconf_active_peers") {
		t.Fatalf("expected active peers metric in output, got:\n%s", body)
	}
}
