// Package corelog wraps zerolog the way the rest of the pack's services
// configure their loggers: a process-wide logger, component-scoped
// children, and small helpers for the common levels.
package corelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-wide logger instance. Tests may replace it to
// observe Fatal-level calls without exiting the process.
var Logger zerolog.Logger

// FatalFunc is invoked by Fatal. It defaults to terminating the process
// (zerolog's normal Fatal behavior); tests override it to assert on the
// message instead of killing the test binary.
var FatalFunc = func(msg string, err error) {
	Logger.Fatal().Err(err).Msg(msg)
}

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// Config controls the global logger's output.
type Config struct {
	JSONOutput bool
	Output     io.Writer
}

// Init reconfigures the global logger.
func Init(cfg Config) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.JSONOutput {
		Logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// Fatal logs a fatal condition and, in production, terminates the
// process. Recoverable-by-contract errors (RING_FULL, NEEDS_REPRODUCE)
// must never reach this; only POOL_OPEN_FAILED/LOG_CORRUPT do.
func Fatal(msg string, err error) {
	FatalFunc(msg, err)
}
