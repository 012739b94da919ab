// Package monitoring provides structured logging and Prometheus metrics for Pulse.
package monitoring

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tenvisio/pulse/internal/config"
)

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	Level  config.LogLevel
	Format config.LogFormat
}

// NewLogger builds a zerolog.Logger with a timestamp, caller info, and a
// fixed "service" field, switching between JSON and console output.
func NewLogger(cfg LoggerConfig) zerolog.Logger {
	var output io.Writer = os.Stdout

	var level zerolog.Level
	switch cfg.Level {
	case config.LogLevelDebug:
		level = zerolog.DebugLevel
	case config.LogLevelInfo:
		level = zerolog.InfoLevel
	case config.LogLevelWarn:
		level = zerolog.WarnLevel
	case config.LogLevelError:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == config.LogFormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "pulse").
		Logger()
}

// LogError logs an error with contextual fields.
func LogError(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err)
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// LogErrorWithStack logs an error together with the current goroutine's stack trace.
func LogErrorWithStack(logger zerolog.Logger, err error, msg string, fields map[string]any) {
	event := logger.Error().Err(err).Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// RecoverPanic is meant for goroutine-top defer blocks: it logs a recovered
// panic with a stack trace but does not exit the process.
func RecoverPanic(logger zerolog.Logger, goroutineName string, fields map[string]any) {
	if r := recover(); r != nil {
		event := logger.Error().
			Str("goroutine", goroutineName).
			Interface("panic_value", r).
			Str("stack_trace", string(debug.Stack()))
		for k, v := range fields {
			event = event.Interface(k, v)
		}
		event.Msg("goroutine panic recovered")
	}
}

// InitGlobalLogger installs cfg as the package-level zerolog logger.
func InitGlobalLogger(cfg LoggerConfig) {
	log.Logger = NewLogger(cfg)
}
