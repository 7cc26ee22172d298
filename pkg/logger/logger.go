// Package logger provides structured logging configuration for all processes.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level    string // debug, info, warn, error
	Pretty   bool   // Enable pretty console output
	Strategy string // Stamped on every line so multi-variant logs stay separable
	Variant  string
}

// New creates a new structured logger. Unknown levels fall back to info
// rather than silencing a misconfigured process.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	lc := zerolog.New(output).
		With().
		Timestamp().
		Caller()
	if cfg.Strategy != "" {
		lc = lc.Str("strategy", cfg.Strategy)
	}
	if cfg.Variant != "" {
		lc = lc.Str("variant", cfg.Variant)
	}
	return lc.Logger()
}

// SetGlobalLogger sets the package-level logger
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
