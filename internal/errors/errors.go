// Package errors provides the service-level error type of the DOCKR job
// server: a message, the failing operation, an HTTP status and the stack
// at which the error was raised.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/copyleftdev/DOCKR/internal/docking"
)

// Sentinels for job lookups and transitions.
var (
	ErrNotFound    = stderrors.New("not found")
	ErrConflict    = stderrors.New("conflict")
	ErrBadRequest  = stderrors.New("bad request")
	ErrUnavailable = stderrors.New("unavailable")
)

// Error represents an error with context and stack trace.
type Error struct {
	Err       error
	Message   string
	Operation string
	// Status is the HTTP status reported for this error; 0 derives it from
	// the wrapped error.
	Status int
	Stack  []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Operation != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString("operation=")
		b.WriteString(e.Operation)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithStatus sets the HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error with a message.
func New(msg string) *Error {
	return &Error{Message: msg, Stack: getStackTrace()}
}

// Errorf creates a new error with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: getStackTrace()}
}

// Wrap wraps err with msg. It returns nil for a nil err.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: msg, Stack: getStackTrace()}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: fmt.Sprintf(format, args...), Stack: getStackTrace()}
}

// HTTPStatus maps err to a response status. An explicit status on the
// outermost *Error wins; otherwise sentinels and docking configuration
// errors decide.
func HTTPStatus(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Status != 0 {
		return e.Status
	}
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrConflict):
		return http.StatusConflict
	case stderrors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, ErrBadRequest), docking.IsConfigurationError(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool { return stderrors.As(err, target) }
