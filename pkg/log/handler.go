package log

import (
	"context"
	"log/slog"

	crdb "github.com/cockroachdb/errors"

	"github.com/YuminosukeSato/localml/pkg/errors"
)

// ErrFmtHandler is a slog handler for records carrying an "error" attribute.
// It appends the error's kind (ErrorTypeKey) and its cockroachdb/errors stack
// trace (StacktraceAttrKey).
type ErrFmtHandler struct {
	next slog.Handler
}

// WrapByErrFmtHandler wraps next with ErrFmtHandler.
func WrapByErrFmtHandler(next slog.Handler) slog.Handler {
	return &ErrFmtHandler{next: next}
}

func (h *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l)
}

func (h *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key != ErrAttrKey {
			return true
		}
		err, _ = attr.Value.Any().(error)
		return false
	})
	if err != nil {
		if kind := ErrorKind(err); kind != "" {
			r.AddAttrs(slog.String(ErrorTypeKey, kind))
		}
		if st := extractStacktrace(err); st != "" {
			r.AddAttrs(slog.String(StacktraceAttrKey, st))
		}
	}
	return h.next.Handle(ctx, r)
}

func (h *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{next: h.next.WithAttrs(attrs)}
}

func (h *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{next: h.next.WithGroup(g)}
}

// ErrorKind maps err to one of the Error* attribute values, or "" when err is
// not one of the prediction error kinds.
func ErrorKind(err error) string {
	var (
		invalid   *errors.InvalidInputError
		malformed *errors.MalformedTreeError
		panicked  *errors.PanicError
	)
	switch {
	case errors.As(err, &invalid):
		return ErrorInvalidInput
	case errors.As(err, &malformed):
		return ErrorMalformed
	case errors.Is(err, errors.ErrNoVotesProduced), errors.Is(err, errors.ErrEmptyVoteSet):
		return ErrorNoVotes
	case errors.As(err, &panicked):
		return ErrorPanic
	default:
		return ""
	}
}

// extractStacktrace returns the first safe detail recorded by errors.WithStack.
func extractStacktrace(err error) string {
	if details := crdb.GetSafeDetails(err).SafeDetails; len(details) > 0 {
		return details[0]
	}
	return ""
}
