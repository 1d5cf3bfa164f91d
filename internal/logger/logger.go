package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Environment overrides read by ConfigureFromEnv
const (
	EnvLogLevel = "IPK24CHAT_LOG_LEVEL"
	EnvLogFile  = "IPK24CHAT_LOG_FILE"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelDisabled
)

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name. The second result is false for unknown names.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "disabled", "off", "none":
		return LevelDisabled, true
	default:
		return LevelDisabled, false
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// ZerologLogger writes human-readable lines through zerolog's console writer.
type ZerologLogger struct {
	mu  sync.RWMutex
	log zerolog.Logger
}

// New creates a logger writing to w at the given level
func New(w io.Writer, level Level) *ZerologLogger {
	out := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: "15:04:05.000"}
	return &ZerologLogger{
		log: zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger(),
	}
}

// With returns a child logger that adds key=value to every line.
func (l *ZerologLogger) With(key, value string) *ZerologLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ZerologLogger{log: l.log.With().Str(key, value).Logger()}
}

// Debug logs debug message
func (l *ZerologLogger) Debug(format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log.Debug().Msgf(format, args...)
}

// Info logs info message
func (l *ZerologLogger) Info(format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log.Info().Msgf(format, args...)
}

// Warn logs warning message
func (l *ZerologLogger) Warn(format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log.Warn().Msgf(format, args...)
}

// Error logs error message
func (l *ZerologLogger) Error(format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.log.Error().Msgf(format, args...)
}

// SetLevel sets the logging level
func (l *ZerologLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log = l.log.Level(level.zerolog())
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(format string, args ...interface{}) {}
func (l *NoOpLogger) Info(format string, args ...interface{})  {}
func (l *NoOpLogger) Warn(format string, args ...interface{})  {}
func (l *NoOpLogger) Error(format string, args ...interface{}) {}
func (l *NoOpLogger) SetLevel(level Level)                     {}

// Global default logger
var defaultLogger Logger = NewNoOpLogger()

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	defaultLogger = logger
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger
}

// ConfigureFromEnv builds a logger from the IPK24CHAT_LOG_* variables,
// falling back to fallback when the level variable is unset. The returned
// closer releases the log file, if one was opened.
func ConfigureFromEnv(fallback Level) (*ZerologLogger, func() error, error) {
	level := fallback
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		level = lvl
	}

	var w io.Writer = os.Stderr
	closer := func() error { return nil }
	if path := strings.TrimSpace(os.Getenv(EnvLogFile)); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		w = f
		closer = f.Close
	}

	return New(w, level), closer, nil
}
