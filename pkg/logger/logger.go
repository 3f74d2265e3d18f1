package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/killallgit/finsight/pkg/config"
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
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

// Logger provides a unified logging interface. A Logger obtained from
// WithComponent resolves the default logger at call time, so components may
// be constructed before Init runs.
type Logger struct {
	level     *slog.LevelVar
	slogger   *slog.Logger
	file      *os.File
	component string
	attrs     []any
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// Init initializes the default logger from the global config
func Init() error {
	return InitWith(config.Get().Logging)
}

// InitWith initializes the default logger from explicit logging settings
func InitWith(settings config.LoggingConfig) error {
	l, err := New(ParseLevel(settings.Level), settings.LogFile, settings.Preserve)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	mu.Lock()
	previous := defaultLogger
	defaultLogger = l
	mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	return nil
}

// New creates a Logger writing to logFile. persist appends to an existing
// file instead of truncating it.
func New(level LogLevel, logFile string, persist bool) (*Logger, error) {
	logPath := logFile
	if logPath == "" {
		logPath = config.BuildSettingsPath("system.log")
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if persist {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	file, err := os.OpenFile(logPath, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWithWriter(level, file)
	l.file = file
	return l, nil
}

// NewWithWriter creates a Logger that writes text records to w
func NewWithWriter(level LogLevel, w io.Writer) *Logger {
	lv := new(slog.LevelVar)
	lv.Set(level.slogLevel())

	return &Logger{
		level:   lv,
		slogger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})),
	}
}

// SetDefault installs l as the default logger (useful for testing)
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// WithComponent returns a logger that tags every record with the component name
func WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// With returns a logger carrying additional key/value pairs
func (l *Logger) With(args ...any) *Logger {
	attrs := make([]any, 0, len(l.attrs)+len(args))
	attrs = append(attrs, l.attrs...)
	attrs = append(attrs, args...)

	return &Logger{
		level:     l.level,
		slogger:   l.slogger,
		file:      l.file,
		component: l.component,
		attrs:     attrs,
	}
}

// SetLevel changes the minimum level of a logger created by New
func (l *Logger) SetLevel(level LogLevel) {
	if l.level != nil {
		l.level.Set(level.slogLevel())
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *Logger) target() *slog.Logger {
	if l.slogger != nil {
		return l.slogger
	}
	mu.RLock()
	defer mu.RUnlock()
	if defaultLogger == nil {
		return nil
	}
	return defaultLogger.slogger
}

func (l *Logger) log(level LogLevel, msg string, args ...any) {
	target := l.target()
	if target == nil {
		return
	}

	all := make([]any, 0, len(l.attrs)+len(args)+2)
	if l.component != "" {
		all = append(all, "component", l.component)
	}
	all = append(all, l.attrs...)
	all = append(all, args...)

	target.Log(context.Background(), level.slogLevel(), msg, all...)
}

// Debug logs a debug message with key/value pairs
func (l *Logger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args...) }

// Info logs an info message with key/value pairs
func (l *Logger) Info(msg string, args ...any) { l.log(LevelInfo, msg, args...) }

// Warn logs a warning message with key/value pairs
func (l *Logger) Warn(msg string, args ...any) { l.log(LevelWarn, msg, args...) }

// Error logs an error message with key/value pairs
func (l *Logger) Error(msg string, args ...any) { l.log(LevelError, msg, args...) }

// ParseLevel converts a string level to LogLevel
func ParseLevel(levelStr string) LogLevel {
	switch levelStr {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Package-level convenience functions using the default logger

// Debug logs a formatted debug message using the default logger
func Debug(format string, args ...any) {
	logDefault(LevelDebug, format, args...)
}

// Info logs a formatted info message using the default logger
func Info(format string, args ...any) {
	logDefault(LevelInfo, format, args...)
}

// Warn logs a formatted warning message using the default logger
func Warn(format string, args ...any) {
	logDefault(LevelWarn, format, args...)
}

// Error logs a formatted error message using the default logger
func Error(format string, args ...any) {
	logDefault(LevelError, format, args...)
}

func logDefault(level LogLevel, format string, args ...any) {
	mu.RLock()
	l := defaultLogger
	mu.RUnlock()
	if l == nil {
		return
	}
	l.log(level, fmt.Sprintf(format, args...))
}

// Close closes the default logger
func Close() error {
	mu.Lock()
	l := defaultLogger
	defaultLogger = nil
	mu.Unlock()

	if l != nil {
		return l.Close()
	}
	return nil
}
