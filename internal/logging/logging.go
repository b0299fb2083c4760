// Package logging configures the process-wide zerolog logger from the
// LOG_LEVEL setting (spec §6), replacing the teacher repo's stdlib
// log.Printf call sites with structured, leveled logging.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets the global zerolog logger's level and output writer.
// Unrecognized levels fall back to info, matching the original Python
// logger's INFO default.
func Configure(level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(console).With().Timestamp().Logger()
}
