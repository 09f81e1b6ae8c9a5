package sigtransport

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LoggerConfig mirrors the teacher's monitoring.LoggerConfig: a level and a
// human/machine output format switch.
type LoggerConfig struct {
	Level  string
	Format string // "json" or "console"
}

// NewLogger builds a zerolog.Logger the way the teacher's NewLogger does:
// a pretty console writer for local development, structured JSON
// otherwise, with a fixed set of base fields.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "console" {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(writer)
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Caller().Str("service", "sigtransport").Logger()
}

// LogError is a small helper matching the teacher's LogError signature:
// attach arbitrary fields to an error-level log line.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	ev := logger.Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}
