// Package logger is the logging facade shared by every dice-net package.
//
// The stack runs inside periodic tasks that must not stall, so every component receives a
// Logger at construction time instead of reaching for a global. The default implementation
// is backed by log/slog: a JSON handler for deployments, and a colored console handler when
// the ENV environment variable is set to "development".
//
// Log Levels:
//
//   - DebugLevel: per-call tracing of socket and session activity, disabled on devices.
//   - InfoLevel: lifecycle events such as a new DHCP lease or a finished TLS session.
//   - WarnLevel: recoverable conditions, e.g. a forced socket abort.
//   - ErrorLevel: failures surfaced to a consumer.
//   - FatalLevel: conditions the device cannot run with, logged right before exit.
package logger

// LogLevel indicates the logging severity level.
type LogLevel = int8

const (
	// DebugLevel logs are voluminous and usually disabled on a device.
	DebugLevel LogLevel = iota - 1
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual
	// human review.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger defines the structured logging interface used across the transport stack.
//
// Every method accepts alternating key/value pairs after the message.
type Logger interface {
	// Debug logs a message at DebugLevel.
	Debug(msg string, keysAndValues ...any)
	// Info logs a message at InfoLevel.
	Info(msg string, keysAndValues ...any)
	// Warn logs a message at WarnLevel.
	Warn(msg string, keysAndValues ...any)
	// Error logs a message at ErrorLevel.
	Error(msg string, keysAndValues ...any)
	// Fatal logs a message at FatalLevel and then calls os.Exit(1).
	Fatal(msg string, keysAndValues ...any)
	// With creates a child logger carrying the given key/value pairs.
	// Pairs added to the child don't affect the parent, and vice versa.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level for this logger.
	Level() LogLevel
	// SetLevel sets the minimum enabled level for this logger.
	SetLevel(level LogLevel)
}
