package logger

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger: console output in dev, JSON elsewhere.
func New(env string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "dev" {
		out := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
		return zerolog.New(out).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
