/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

// engineVersion is the conferencing engine's release version, set at build
// time via ldflags:
//
//	-X github.com/friendsincode/p2pconf/cmd/p2pconfd.engineVersion=X.Y.Z
var engineVersion = "0.1.0"

func main() {
	execute()
}
