/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package peerconn

import "regexp"

const opusTuningParams = ";maxaveragebitrate=60000;stereo=0;useinbandfec=1"

var fmtpLineRe = regexp.MustCompile(`(?m)^a=fmtp:(\d+) (.*)$`)

// ConfigureOpusSDP appends the engine's fixed Opus tuning parameters to
// every a=fmtp line in sdp (§4.5.3). It is intentionally not idempotent
// (§8 invariant 6): callers must only ever apply it once per fresh or
// ICE-restart offer/answer, never to the result of a previous application.
func ConfigureOpusSDP(sdp string) string {
	return fmtpLineRe.ReplaceAllStringFunc(sdp, func(line string) string {
		return line + opusTuningParams
	})
}
