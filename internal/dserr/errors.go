// Package dserr defines the error taxonomy shared by the query builder,
// the renderers, the cursor layer and the data source operations.
//
// Every failure surfaced by dsq is an *Error carrying a Code. Callers test
// for a category with the Is* helpers (which see through wrapping) or with
// errors.Is against the exported sentinels:
//
//	if errors.Is(err, dserr.ErrNotFound) { ... }
//
// Context cancellation is never converted; it reaches the caller as
// context.Canceled or context.DeadlineExceeded.
package dserr

import (
	"errors"
	"fmt"
)

// Code categorizes an Error.
type Code string

const (
	// CodeConfiguration marks structural misuse of the builder API: duplicate
	// alias, missing root, mismatched grouping, connect cycles.
	CodeConfiguration Code = "CONFIGURATION"

	// CodeUnsupported marks a legal plan asking for something a backend
	// cannot render or execute.
	CodeUnsupported Code = "UNSUPPORTED"

	// CodeNotFound marks a mutation or lookup that matched zero records.
	CodeNotFound Code = "NOT_FOUND"

	// CodeConflict marks a duplicate key on insert.
	CodeConflict Code = "CONFLICT"

	// CodeInvalidOperation marks an object used in a state that forbids the
	// call, such as mixing sync and async enumeration on one cursor.
	CodeInvalidOperation Code = "INVALID_OPERATION"

	// CodeObjectDisposed marks use of a closed cursor.
	CodeObjectDisposed Code = "OBJECT_DISPOSED"

	// CodeInvalidArgument marks an argument outside its allowed range.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeOverflow marks an id counter stepping into its sentinel value.
	CodeOverflow Code = "OVERFLOW"
)

// Error is the error type returned by every dsq package.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Op names the operation that failed ("normalize", "render select", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code and no message.
// This makes the exported sentinels usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrConfiguration    = &Error{Code: CodeConfiguration}
	ErrUnsupported      = &Error{Code: CodeUnsupported}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrConflict         = &Error{Code: CodeConflict}
	ErrInvalidOperation = &Error{Code: CodeInvalidOperation}
	ErrObjectDisposed   = &Error{Code: CodeObjectDisposed}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
	ErrOverflow         = &Error{Code: CodeOverflow}
)

// New creates an Error with a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// Configuration creates a CodeConfiguration error.
func Configuration(op, format string, args ...any) *Error {
	return New(CodeConfiguration, op, format, args...)
}

// Unsupported creates a CodeUnsupported error.
func Unsupported(op, format string, args ...any) *Error {
	return New(CodeUnsupported, op, format, args...)
}

// NotFound creates a CodeNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return New(CodeNotFound, op, format, args...)
}

// CodeOf returns the code of the first *Error in err's chain, or "" when
// there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConfiguration reports whether err is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfiguration(err error) bool { return CodeOf(err) == CodeConfiguration }

// IsUnsupported reports whether err is an unsupported-operation error.
func IsUnsupported(err error) bool { return CodeOf(err) == CodeUnsupported }

// IsNotFound reports whether err is a no-such-record error.
func IsNotFound(err error) bool { return CodeOf(err) == CodeNotFound }

// IsConflict reports whether err is a duplicate-key error.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsOverflow reports whether err is an id overflow error.
func IsOverflow(err error) bool { return CodeOf(err) == CodeOverflow }

// IsUsage reports whether err is a programming-contract violation: an
// invalid operation for the current state or use of a disposed object.
func IsUsage(err error) bool {
	code := CodeOf(err)
	return code == CodeInvalidOperation || code == CodeObjectDisposed
}
