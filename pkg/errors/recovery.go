package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// PanicError is a recovered panic raised while evaluating one row or one
// ensemble member. The panic stays scoped to that row or member.
type PanicError struct {
	Operation  string
	Value      interface{}
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.Value)
}

// String includes the stack captured at recovery.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s", e.Operation, e.Value, e.StackTrace)
}

// Unwrap exposes a panic value that is itself an error, e.g. a runtime.Error
// from an out-of-range node index.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (e *PanicError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Operation).
		Str("panic", fmt.Sprint(e.Value)).
		Str("stacktrace", e.StackTrace)
}

// NewPanicError captures the current stack for a recovered value.
func NewPanicError(operation string, value interface{}) *PanicError {
	return &PanicError{
		Operation:  operation,
		Value:      value,
		StackTrace: string(debug.Stack()),
	}
}

// Recover is deferred with a pointer to the caller's named error result.
//
//	func (d *Driver) predict(row core.Row) (rec core.Record, err error) {
//	    defer errors.Recover(&err, "batch row")
//	    ...
//	}
//
// A recovered panic becomes a *PanicError. When the function had already set
// an error, that error stays the cause and the panic is attached as a
// secondary error for reporting.
func Recover(err *error, operation string) {
	r := recover()
	if r == nil {
		return
	}
	panicErr := NewPanicError(operation, r)
	if *err == nil {
		*err = panicErr
		return
	}
	*err = errors.WithSecondaryError(errors.Wrapf(*err, "panic in %s: %v", operation, r), panicErr)
}

// SafeExecute runs fn and turns a panic into an error.
//
//	err := errors.SafeExecute("ensemble member 3", func() error {
//	    p, err = member.Evaluate(row, strategy)
//	    return err
//	})
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
