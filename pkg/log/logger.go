package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/localml/pkg/errors"
)

var defaultLogger atomic.Value

func init() {
	defaultLogger.Store(holder{NewZerologLogger(os.Stderr, LevelWarn)})
}

// holder keeps atomic.Value happy when different Logger implementations are stored.
type holder struct{ Logger }

// Default returns the package-level logger used by components built without WithLogger.
func Default() Logger {
	return defaultLogger.Load().(holder).Logger
}

// SetDefault replaces the package-level logger.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(holder{l})
}

// SetupLogger configures process-wide logging for the CLI: a JSON slog default
// handler wrapped with ErrFmtHandler, a zerolog Default() logger, and the
// zerolog sink for warnings raised through pkg/errors. All three write to w.
func SetupLogger(loglevel string, w io.Writer) (Logger, error) {
	level, err := ParseLevel(loglevel)
	if err != nil {
		return nil, err
	}

	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     slog.Level(level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{Key: "severity", Value: attr.Value}
			case slog.MessageKey:
				attr = slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	}
	handler := slog.NewJSONHandler(w, &ops)
	slog.SetDefault(slog.New(WrapByErrFmtHandler(handler)))

	logger := NewZerologLogger(w, level)
	SetDefault(logger)

	zl := logger.(*zerologLogger).zl
	errors.SetZerologWarnFunc(func(warning error) {
		if m, ok := warning.(zerolog.LogObjectMarshaler); ok {
			zl.Warn().EmbedObject(m).Msg(warning.Error())
			return
		}
		zl.Warn().Err(warning).Msg("warning")
	})
	return logger, nil
}

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log.level", "unknown log level", level)
	}
}

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// zerologLogger implements Logger on top of zerolog.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger returns a Logger writing JSON lines to w.
func NewZerologLogger(w io.Writer, level Level) Logger {
	zl := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

func (l *zerologLogger) Debug(msg string, fields ...any) { emit(l.zl.Debug(), msg, fields) }
func (l *zerologLogger) Info(msg string, fields ...any)  { emit(l.zl.Info(), msg, fields) }
func (l *zerologLogger) Warn(msg string, fields ...any)  { emit(l.zl.Warn(), msg, fields) }
func (l *zerologLogger) Error(msg string, fields ...any) { emit(l.zl.Error(), msg, fields) }

func (l *zerologLogger) With(fields ...any) Logger {
	return &zerologLogger{zl: l.zl.With().Fields(normalizeFields(fields)).Logger()}
}

func (l *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return toZerologLevel(level) >= l.zl.GetLevel()
}

// emit writes one event. A leading error field is attached with its stack trace.
func emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			e = e.Err(err)
			if kind := ErrorKind(err); kind != "" {
				e = e.Str(ErrorTypeKey, kind)
			}
			if st := extractStacktrace(err); st != "" {
				e = e.Str(StacktraceKey, st)
			}
			fields = fields[1:]
		}
	}
	e.Fields(normalizeFields(fields)).Msg(msg)
}

// normalizeFields turns error values into strings so they serialize readably
// and pads an odd trailing key.
func normalizeFields(fields []any) []any {
	out := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		if i%2 == 0 {
			out = append(out, fmt.Sprint(f))
			continue
		}
		if err, ok := f.(error); ok {
			out = append(out, err.Error())
			continue
		}
		out = append(out, f)
	}
	if len(out)%2 == 1 {
		out = append(out, nil)
	}
	return out
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
