package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var output io.Writer = os.Stderr

// Init configures the global zerolog logger. format is "console" or "json"; an
// unknown level falls back to info.
func Init(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = output
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(w).With().Timestamp().Str("service", "conviction-engine").Logger()
	log.Logger = logger
	return logger
}
