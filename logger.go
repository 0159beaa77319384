package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/pinpoint-geo/pinpoint/geodb"
)

type logger struct {
	lookupLog zerolog.Logger
	updateLog zerolog.Logger
}

func (l *logger) LookupError(ip string, err error) {
	l.lookupLog.Error().Str("ip", ip).Err(err).Msg("")
}

func (l *logger) UpdateInfo(msg string) {
	l.updateLog.Info().Msg(msg)
}

func (l *logger) UpdateError(err error) {
	l.updateLog.Error().Err(err).Msg("")
}

func newLogger() geodb.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	return &logger{
		lookupLog: zerolog.New(os.Stderr).With().Timestamp().Stack().Str("event_name", "lookup").Logger(),
		updateLog: zerolog.New(os.Stderr).With().Timestamp().Stack().Str("event_name", "update").Logger(),
	}
}
