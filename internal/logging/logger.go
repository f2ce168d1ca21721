package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatGitHub LogFormat = "github"
	FormatJSON   LogFormat = "json"
	FormatText   LogFormat = "text"
)

// Config holds logging configuration
type Config struct {
	Level     LogLevel  // Minimum log level to output
	Format    LogFormat // Output format (github, json or text)
	Output    io.Writer // Destination for info and warnings (defaults to stdout)
	ErrOutput io.Writer // Destination for errors (defaults to stderr)
}

// Logger wraps slog.Logger with the fields ssh-action logs per host and phase
type Logger struct {
	logger *slog.Logger
	config Config
}

// NewLogger creates a new logger instance
func NewLogger(config Config) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.ErrOutput == nil {
		config.ErrOutput = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: convertLogLevel(config.Level),
	}

	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.ErrOutput, opts)
	case FormatText:
		handler = slog.NewTextHandler(config.ErrOutput, opts)
	default:
		handler = NewAnnotationHandler(config.Output, config.ErrOutput, opts)
	}

	return &Logger{
		logger: slog.New(handler),
		config: config,
	}
}

// Discard returns a logger that drops everything, for tests and dry wiring
func Discard() *Logger {
	return NewLogger(Config{Format: FormatText, Output: io.Discard, ErrOutput: io.Discard})
}

func convertLogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, args...)
}

// Info logs an informational message
func (l *Logger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

// Warn logs a warning; it never changes the outcome of a run
func (l *Logger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, args...)
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...any) {
	l.logger.Error(msg, args...)
}

// ErrorContext logs an error message with context
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

// LogConnection logs an established SSH connection.
// Credentials are never logged.
func (l *Logger) LogConnection(host string, port int, duration time.Duration) {
	l.Debug("ssh connection established",
		"host", host,
		"port", port,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogConnectionError logs a failed SSH connection at debug level; the probe reports it to the user
func (l *Logger) LogConnectionError(host string, err error) {
	l.Debug("ssh connection failed",
		"host", host,
		"error", err.Error(),
	)
}

// LogConnectionWarning logs security warnings for connections
func (l *Logger) LogConnectionWarning(host string, message string) {
	l.Warn(message, "host", host)
}

// LogPhaseStart logs the start of a fleet-wide phase
func (l *Logger) LogPhaseStart(phase string, hostCount int) {
	l.Debug("phase started",
		"phase", phase,
		"host_count", hostCount,
	)
}

// LogPhaseComplete logs the completion of a fleet-wide phase
func (l *Logger) LogPhaseComplete(phase string, hostCount, failureCount int, duration time.Duration) {
	l.Debug("phase completed",
		"phase", phase,
		"host_count", hostCount,
		"failure_count", failureCount,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogConfigLoad logs configuration loading events
func (l *Logger) LogConfigLoad(source string) {
	l.Debug("configuration loaded", "source", source)
}

// LogConfigError logs configuration errors
func (l *Logger) LogConfigError(source string, err error) {
	l.Error(err.Error(), "source", source)
}

// NewLoggerFromConfig creates a logger from input values; nil writers default to stdout and stderr
func NewLoggerFromConfig(logLevel, logFormat string, out, errOut io.Writer) *Logger {
	var level LogLevel
	switch logLevel {
	case "debug":
		level = LevelDebug
	case "warn":
		level = LevelWarn
	case "error":
		level = LevelError
	default:
		level = LevelInfo
	}

	var format LogFormat
	switch logFormat {
	case "json":
		format = FormatJSON
	case "text":
		format = FormatText
	default:
		format = FormatGitHub
	}

	return NewLogger(Config{
		Level:     level,
		Format:    format,
		Output:    out,
		ErrOutput: errOut,
	})
}
