// Package logging builds the broker's structured logger.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/stefan1627/pubsub-broker/internal/config"
)

// New creates a zerolog logger from validated configuration.
func New(cfg *config.Config) zerolog.Logger {
	var output io.Writer = os.Stdout
	if cfg.LogFormat == config.LogFormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	zerolog.SetGlobalLevel(cfg.ZerologLevel())

	return zerolog.New(output).
		With().
		Timestamp().
		Str("service", "pubsub-broker").
		Logger()
}

// RecoverPanic logs a recovered panic from a background goroutine (the
// metrics server or the system sampler) without taking down the process.
// The single-threaded reactor goroutine does not use this: a panic there
// is always fatal, since it owns the trie and registry.
func RecoverPanic(logger zerolog.Logger, goroutine string) {
	if r := recover(); r != nil {
		logger.Error().
			Str("goroutine", goroutine).
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("recovered panic in background goroutine")
	}
}
