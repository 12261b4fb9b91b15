// Package logging provides structured logging configuration using zerolog.
//
// Components receive a zerolog.Logger; Setup configures the global one the
// CLI hands out through NewLogger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	// The CLI sets it from log.pretty.
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and level and returns it.
// A nil Output writes to os.Stderr.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// parseLevel maps a configured level onto zerolog, case-insensitively.
// Unknown levels fall back to info.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(string(level))) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRun tags every entry of logger with the run ID.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	if runID == "" {
		return logger
	}
	return logger.With().Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Every call (entity, credential, outcome, duration)
//   - Cache operations (chunk hit/miss)
//   - Credential refills and quota snapshots
//
// Info: Normal operation events
//   - Run start and end, summary counts
//   - Progress every N entities
//   - Schema migrations, server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Retry attempts (rate limited, retryable)
//   - All credentials exhausted, waiting for reset
//   - Cache and snapshot errors (the run continues without them)
//   - Invalid task requests that were skipped
//
// Error: Error conditions requiring attention
//   - Fatal outcomes and exhausted retry budgets
//   - Persist failures
//   - Request function panics
//   - Configuration errors
//
// Context Fields:
//   - run_id: Run identifier
//   - component: Emitting package (pool, limiter, requester, orchestrator, ...)
//   - entity: Entity ID (user login or owner/repo)
//   - kind: Window kind (before, after)
//   - window: Chunk interval
//   - credential: Credential fingerprint, never the token
//   - attempt: Attempt number within the retry budget
//   - outcome: Call outcome (success, rate_limited, retryable, fatal, not_found)
//   - remaining: Quota remaining after the call
