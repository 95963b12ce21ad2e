package docking

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy of a search run.
var (
	// ErrInvalidRegion marks a region with a non-positive or non-finite
	// radius or center. Fatal.
	ErrInvalidRegion = errors.New("invalid search region")
	// ErrEmptyGrid is returned when grid construction yields no points. Fatal.
	ErrEmptyGrid = errors.New("empty grid")
	// ErrEmptyLigand is returned when the ligand has no atoms. Fatal.
	ErrEmptyLigand = errors.New("ligand has no atoms")
	// ErrInvalidConfig marks an unknown strategy or an inconsistent run
	// request. Fatal.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrSamplingExhausted is logged when a retry budget runs out; engines
	// resolve it locally.
	ErrSamplingExhausted = errors.New("sampling retry budget exhausted")
	// ErrConformationInvalid marks a pose that failed overlap or bond checks.
	ErrConformationInvalid = errors.New("invalid conformation")
	// ErrEvaluation wraps a failed scoring call. The pose receives +Inf.
	ErrEvaluation = errors.New("evaluation failed")
)

// Error is a docking error carrying the failing operation and component.
type Error struct {
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = e.Component + ": " + e.Op
	case e.Component != "":
		prefix = e.Component
	default:
		prefix = e.Op
	}

	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if prefix != "" {
		return prefix + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation sets the operation and returns e.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent sets the component and returns e.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates an error with the given message.
func NewError(message string) *Error {
	return &Error{Message: message}
}

// NewErrorf creates an error with a formatted message.
func NewErrorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with message. If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// WrapErrorf wraps err with a formatted message. If err is nil, WrapErrorf
// returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: fmt.Sprintf(format, args...), Err: err}
}

// AsError reports whether err's chain contains an *Error and returns it.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsConfigurationError reports whether err belongs to the fatal
// configuration class that aborts a run before sampling starts.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidRegion) ||
		errors.Is(err, ErrEmptyGrid) ||
		errors.Is(err, ErrEmptyLigand) ||
		errors.Is(err, ErrInvalidConfig)
}
