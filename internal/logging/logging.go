// Package logging configures the process-wide zerolog logger, switching
// between a human-readable console writer and JSON output depending on
// whether stderr is a terminal, following the teacher's cmd/cryptorun
// main.go setup.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Level aliases zerolog's level type so callers don't need to import
// zerolog directly just to configure verbosity.
type Level = zerolog.Level

// Init sets up the global logger. When stderr is a TTY it uses a
// human-readable console writer; otherwise it emits structured JSON, the
// shape operational log shippers expect.
func Init(level Level) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// WithRequestID returns a child logger carrying a request correlation ID
// field.
func WithRequestID(requestID string) zerolog.Logger {
	return log.With().Str("request_id", requestID).Logger()
}
