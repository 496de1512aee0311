package alarm

import (
	"errors"
	"fmt"
)

type errorCode string

const (
	// ErrUnrecognizedFormat means a time string matched none of the
	// accepted layouts.
	ErrUnrecognizedFormat errorCode = "unrecognized_format"

	// ErrOutOfRange means a time string matched a layout but a field fell
	// outside its valid range, or a numeric parameter was out of bounds.
	ErrOutOfRange errorCode = "out_of_range"

	// ErrInvalidState means the command is not valid in the alarm's
	// current phase, or the alarm has been closed.
	ErrInvalidState errorCode = "invalid_state"

	// ErrDuplicateIdentifier means an alarm with the same id is already
	// registered.
	ErrDuplicateIdentifier errorCode = "duplicate_identifier"

	// ErrNotFound means no alarm with the given id exists.
	ErrNotFound errorCode = "not_found"

	// ErrInternal is the catch-all for errors that are not application
	// errors.
	ErrInternal errorCode = "internal"
)

// Error is an application error with a machine-readable code. The code is
// what collaborators branch on; the description quotes whatever input was
// rejected.
type Error struct {
	Code        errorCode
	Description string
}

func (e *Error) Error() string {
	return "alarm: " + string(e.Code) + ": " + e.Description
}

func Errorf(code errorCode, format string, args ...any) error {
	return &Error{code, fmt.Sprintf(format, args...)}
}

// ErrorCode returns the code associated with err, or ErrInternal if err is
// not an application error.
func ErrorCode(err error) errorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrInternal
}

// ErrorDescription returns a human-readable description of err, or
// "internal error" if err is not an application error.
func ErrorDescription(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Description != "" {
		return e.Description
	}
	return "internal error"
}
