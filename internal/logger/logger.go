package logger

import (
	"io"
	"os"
	"time"

	"adledger/internal/config"

	"github.com/rs/zerolog"
)

// New builds the process logger. Pretty switches to the console writer for
// local runs; production output is one JSON object per line.
func New(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stdout
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", "adledger").
		Logger()
}
