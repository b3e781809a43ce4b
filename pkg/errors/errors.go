// Package errors provides structured error handling for ACE.
//
// Every failure raised by the storage layer and the execution engine carries
// an ErrorType from a small closed taxonomy so the orchestration layer can
// decide whether to abort a run or skip an object. None of the storage types
// are retried automatically.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeIO represents open/read/write/permission failures of the backing store
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeCorruptData represents malformed headers, metadata tags or truncated fields
	ErrorTypeCorruptData ErrorType = "corrupt_data"
	// ErrorTypeTypeMismatch represents using an object as a type inconsistent with its stamp
	ErrorTypeTypeMismatch ErrorType = "type_mismatch"
	// ErrorTypeInvalidArgument represents caller bugs such as a bad chunk index or size
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrorTypeMissingChunk represents a chunk partial output absent at merge time
	ErrorTypeMissingChunk ErrorType = "missing_chunk"
	// ErrorTypeArgumentMismatch represents chunks produced from different argument sets
	ErrorTypeArgumentMismatch ErrorType = "argument_mismatch"
	// ErrorTypeNotFound represents lookups of unknown analytics, kinds or keys
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents inserting a key or registration that already exists
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeTransport represents failures talking to another participant
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns a detail previously attached with WithDetail.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, errType ErrorType, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, errType, fmt.Sprintf(format, args...))
	return e
}

// IsRetryable returns true if the error is retryable. Storage and merge
// failures never are: a missing artifact needs re-execution, not a retry.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == ErrorTypeTransport
}

// IsType checks if the outermost structured error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the type of the outermost structured error, or
// ErrorTypeInternal for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
