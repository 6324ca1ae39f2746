package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var slogLevels = map[Level]slog.Level{
	DEBUG: slog.LevelDebug,
	INFO:  slog.LevelInfo,
	WARN:  slog.LevelWarn,
	ERROR: slog.LevelError,
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// Logger provides structured logging with optional PII redaction.
type Logger struct {
	mu        sync.RWMutex
	level     slog.LevelVar
	redactPII bool
	handler   *slog.Logger
}

var defaultLogger = newLogger(os.Stderr, "json")

func newLogger(w io.Writer, format string) *Logger {
	l := &Logger{redactPII: true}
	l.level.Set(slog.LevelInfo)
	l.handler = slog.New(buildHandler(w, format, &l.level))
	return l
}

func buildHandler(w io.Writer, format string, level slog.Leveler) slog.Handler {
	if format == "text" {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Setup replaces the default logger's output. format is "json" or "text".
func Setup(w io.Writer, format string, level Level) {
	defaultLogger.mu.Lock()
	defaultLogger.handler = slog.New(buildHandler(w, format, &defaultLogger.level))
	defaultLogger.mu.Unlock()
	SetLevel(level)
}

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) { defaultLogger.level.Set(slogLevels[l]) }

// SetRedactPII enables or disables PII redaction for the default logger.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// Slog exposes the default logger for libraries that accept *slog.Logger.
func Slog() *slog.Logger {
	defaultLogger.mu.RLock()
	defer defaultLogger.mu.RUnlock()
	return defaultLogger.handler
}

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.log(DEBUG, msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.log(INFO, msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.log(WARN, msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	h, redact := l.handler, l.redactPII
	l.mu.RUnlock()

	lvl := slogLevels[level]
	if !h.Enabled(context.Background(), lvl) {
		return
	}

	attrs := make([]slog.Attr, 0, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fields[i+1]
		if err, ok := val.(error); ok {
			val = err.Error()
		}
		if s, ok := val.(string); ok && redact {
			val = redactPIIValue(key, s)
		}
		attrs = append(attrs, slog.Any(key, val))
	}
	h.LogAttrs(context.Background(), lvl, msg, attrs...)
}

var emailRegex = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// addressKeys hold a bare address as their whole value.
var addressKeys = map[string]bool{
	"email":     true,
	"recipient": true,
	"to":        true,
	"from":      true,
}

func redactPIIValue(key, val string) string {
	if addressKeys[strings.ToLower(key)] {
		return RedactEmail(val)
	}
	// embedded addresses, e.g. SMTP error text
	return emailRegex.ReplaceAllStringFunc(val, RedactEmail)
}
