/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transport

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/p2pconf/internal/telemetry"
)

const (
	dedupCapacity = 500
	dedupTTL      = 30 * time.Second
	dedupCleanInterval = dedupTTL / 2

	duplicateSummaryCount    = 200
	duplicateSummaryInterval = 15 * time.Second
)

type dedupEntry struct {
	seenAt time.Time
}

// Dedup is the sliding TTL+capacity cache of observed msgIds described in
// §4.3.1. It collapses duplicate envelope delivery across multiple broker
// transports and a same-origin multicast channel.
type Dedup struct {
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]dedupEntry

	windowStart    time.Time
	filteredTotal  int
	distinctIDs    map[string]struct{}
	lastSummary    time.Time
	breadcrumbSent bool

	stopCleaner chan struct{}
}

// NewDedup constructs a Dedup cache and starts its periodic cleaner.
func NewDedup(logger zerolog.Logger) *Dedup {
	d := &Dedup{
		logger:      logger.With().Str("component", "dedup").Logger(),
		entries:     make(map[string]dedupEntry),
		distinctIDs: make(map[string]struct{}),
		windowStart: time.Now(),
		lastSummary: time.Now(),
		stopCleaner: make(chan struct{}),
	}
	go d.cleanLoop()
	return d
}

// Stop halts the periodic cleaner. Safe to call once.
func (d *Dedup) Stop() {
	close(d.stopCleaner)
}

// IsDuplicate records id if unseen and returns false; returns true without
// recording if id was already observed within the window. A missing id is
// always treated as new (§4.3.1).
func (d *Dedup) IsDuplicate(id string) bool {
	if id == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.breadcrumbSent {
		d.logger.Debug().Msg("dedup window opened")
		d.breadcrumbSent = true
	}

	if _, ok := d.entries[id]; ok {
		d.filteredTotal++
		d.distinctIDs[id] = struct{}{}
		telemetry.DedupDropsTotal.Inc()
		d.maybeLogSummary()
		return true
	}

	d.entries[id] = dedupEntry{seenAt: time.Now()}
	if len(d.entries) > dedupCapacity {
		d.evictOldest()
	}
	return false
}

// maybeLogSummary emits a throttled duplicate-count summary: every
// duplicateSummaryCount duplicates, or every duplicateSummaryInterval,
// whichever comes first (§4.3.1). Caller must hold d.mu.
func (d *Dedup) maybeLogSummary() {
	elapsed := time.Since(d.lastSummary)
	if d.filteredTotal < duplicateSummaryCount && elapsed < duplicateSummaryInterval {
		return
	}

	top := topMsgIDs(d.distinctIDs, 5)
	d.logger.Info().
		Int("filtered_total", d.filteredTotal).
		Int("distinct_msg_ids", len(d.distinctIDs)).
		Dur("window", time.Since(d.windowStart)).
		Strs("top_msg_ids", top).
		Msg("duplicate envelope summary")

	d.filteredTotal = 0
	d.distinctIDs = make(map[string]struct{})
	d.windowStart = time.Now()
	d.lastSummary = time.Now()
}

func topMsgIDs(ids map[string]struct{}, n int) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// evictOldest drops the oldest entries by timestamp until the cache is back
// at capacity. Caller must hold d.mu.
func (d *Dedup) evictOldest() {
	type kv struct {
		id     string
		seenAt time.Time
	}
	all := make([]kv, 0, len(d.entries))
	for id, e := range d.entries {
		all = append(all, kv{id, e.seenAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seenAt.Before(all[j].seenAt) })

	excess := len(all) - dedupCapacity
	for i := 0; i < excess; i++ {
		delete(d.entries, all[i].id)
	}
}

func (d *Dedup) cleanLoop() {
	ticker := time.NewTicker(dedupCleanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCleaner:
			return
		case <-ticker.C:
			d.sweepExpired()
		}
	}
}

func (d *Dedup) sweepExpired() {
	cutoff := time.Now().Add(-dedupTTL)
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, e := range d.entries {
		if e.seenAt.Before(cutoff) {
			delete(d.entries, id)
		}
	}
}
