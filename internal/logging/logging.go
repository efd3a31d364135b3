/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures zerolog for the process.
func Setup(environment string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if environment == "development" {
		level = zerolog.DebugLevel
	}

	var out zerolog.ConsoleWriter
	var logger zerolog.Logger
	if environment == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
		logger = zerolog.New(out).With().Timestamp().Logger().Level(level)
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	}

	log.Logger = logger
	return logger
}
