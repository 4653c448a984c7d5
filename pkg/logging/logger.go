// Package logging builds the zerolog logger every component of the fleet
// shares, in the shape of the ingestion service's logger construction.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger configured with the given level and format
// ("console"/"pretty" for human-readable output, anything else for JSON),
// tagged with the service name and version.
func New(level, format, service, version string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	var logger zerolog.Logger
	if format == "console" || format == "pretty" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return logger.With().Str("service", service).Str("version", version).Logger()
}

// WithComponent returns a logger tagged with a component field.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
