// Package logging provides structured logging for the token engine, with
// per-subsystem helper methods in place of ad hoc Printf calls.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through the engine.
type ContextKey string

const (
	// TraceIDKey correlates log lines belonging to one certificate scan run
	// or one slot-insertion event.
	TraceIDKey ContextKey = "trace_id"
	// SlotKey carries the slot index a log line pertains to.
	SlotKey ContextKey = "slot"
	// SessionKey carries the session handle a log line pertains to.
	SessionKey ContextKey = "session"
)

// Logger wraps logrus.Logger with the engine's subsystem name baked in.
type Logger struct {
	*logrus.Logger
	subsystem string
}

// New creates a Logger for the given subsystem ("registry", "mechanism",
// "certslot", ...), with level and format read the way the rest of the
// engine reads its preferences.
func New(subsystem, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stderr)

	return &Logger{Logger: logger, subsystem: subsystem}
}

// NewFromEnv builds a Logger from PKCS11_LOG_LEVEL / PKCS11_LOG_FORMAT,
// defaulting to "warn" and "text" — a loaded Cryptoki module writing to
// stderr by default would otherwise surprise the hosting application.
func NewFromEnv(subsystem string) *Logger {
	level := strings.TrimSpace(os.Getenv("PKCS11_LOG_LEVEL"))
	if level == "" {
		level = "warn"
	}
	format := strings.TrimSpace(os.Getenv("PKCS11_LOG_FORMAT"))
	if format == "" {
		format = "text"
	}
	return New(subsystem, level, format)
}

func (l *Logger) entry() *logrus.Entry {
	return l.Logger.WithField("subsystem", l.subsystem)
}

// WithContext attaches trace/slot/session fields found on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.entry()
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if slot := ctx.Value(SlotKey); slot != nil {
		entry = entry.WithField("slot", slot)
	}
	if session := ctx.Value(SessionKey); session != nil {
		entry = entry.WithField("session", session)
	}
	return entry
}

// NewTraceID returns a fresh correlation id for a scan run or insertion event.
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// LogSlotEvent logs a slot/token lifecycle transition (insertion, removal,
// registry growth).
func (l *Logger) LogSlotEvent(ctx context.Context, event string, slot int, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["slot"] = slot
	l.WithContext(ctx).WithFields(fields).Info(event)
}

// LogSessionEvent logs a session open/close.
func (l *Logger) LogSessionEvent(ctx context.Context, event string, session uint, slot int) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"session": session,
		"slot":    slot,
	}).Debug(event)
}

// LogCryptoOperation logs a crypto dispatch outcome without ever including
// key material, plaintext, ciphertext, or signatures.
func (l *Logger) LogCryptoOperation(ctx context.Context, operation string, success bool, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": operation,
		"success":   success,
	})
	if err != nil {
		entry.WithError(Redact(err)).Debug("crypto operation failed")
		return
	}
	entry.Debug("crypto operation completed")
}

// LogSecurityEvent logs an authentication/authorization-relevant event
// (login, logout, PIN throttling) with any sensitive detail values redacted.
func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, details map[string]interface{}) {
	fields := logrus.Fields{"event_type": eventType}
	for k, v := range RedactMap(details) {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Warn("security event")
}

// Error logs an error with an optional field set, redacting PIN-shaped values.
func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(Redact(err))
	}
	entry.WithFields(RedactMap(fields)).Error(message)
}

// Warn logs a warning message with redacted fields.
func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(RedactMap(fields)).Warn(message)
}

// Debug logs a debug message with redacted fields.
func (l *Logger) Debug(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(RedactMap(fields)).Debug(message)
}
