/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package model holds the value types shared across the conferencing engine:
// self identity, rendezvous envelopes, peer platform info, and ICE/broker
// credentials. It carries no behavior beyond small validity helpers so every
// other package can depend on it without a cycle.
package model

import (
	"crypto/rand"
	"strings"
)

const selfIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewSelfID returns a 16-character random alphanumeric identifier, stable
// for the process lifetime and used as the lexical tiebreaker in §4.5.
func NewSelfID() string {
	return randomAlphanumeric(16)
}

// NewShortID returns a short random identifier suitable for msgId/requestId
// nonces attached to outbound envelopes and control messages.
func NewShortID() string {
	return randomAlphanumeric(12)
}

func randomAlphanumeric(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform RNG is broken; fall back to
		// a fixed byte pattern so callers never see an empty id (every id
		// produced this way is the same).
		for i := range buf {
			buf[i] = byte(i)
		}
	}
	var b strings.Builder
	b.Grow(n)
	for _, v := range buf {
		b.WriteByte(selfIDAlphabet[int(v)%len(selfIDAlphabet)])
	}
	return b.String()
}

// Platform identifies the host OS family, derived from a user-agent string.
type Platform string

const (
	PlatformWindows Platform = "win"
	PlatformMac     Platform = "mac"
	PlatformLinux   Platform = "linux"
)

// DetectPlatform maps a user-agent string to a coarse platform per §6.
func DetectPlatform(userAgent string) Platform {
	switch {
	case strings.Contains(userAgent, "Windows"):
		return PlatformWindows
	case strings.Contains(userAgent, "Macintosh"), strings.Contains(userAgent, "Mac OS"):
		return PlatformMac
	default:
		return PlatformLinux
	}
}
