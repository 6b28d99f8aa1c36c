// Package log provides a structured logging interface for localml prediction runs.
//
// The interface is slog-compatible so that callers can plug in the backend they
// already use. The package ships a zerolog implementation (NewZerologLogger), a
// slog setup helper whose handler carries cockroachdb/errors stack traces
// (SetupLogger), and an in-memory TestLogger.
//
// Example usage:
//
//	logger := log.Default().With(
//	    log.ModelIDKey, "ensemble/52df49b60c0b5e589b00014b",
//	    log.ComponentKey, "batch",
//	)
//	logger.Info("batch finished",
//	    log.OperationKey, log.OperationPredict,
//	    log.RowsKey, 1000,
//	    log.FailedRowsKey, 3,
//	)
package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// Fields are passed as alternating key/value pairs. With returns a child logger
// whose fields are attached to every subsequent record.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message with optional structured fields.
	// If the first field is an error it is attached as the record's error.
	//
	// Example:
	//   logger.Error("row failed",
	//       err,
	//       log.RowIndexKey, 17,
	//   )
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	// Use it to skip building expensive fields.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4 // Detailed diagnostic information
	LevelInfo  Level = 0  // General operational information
	LevelWarn  Level = 4  // Warning conditions
	LevelError Level = 8  // Error conditions
)

// String returns the string representation of the log level.
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
	default:
		return "UNKNOWN"
	}
}

// Component returns the default logger tagged with the given component name.
func Component(name string) Logger {
	return Default().With(ComponentKey, name)
}
