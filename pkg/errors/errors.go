// Package errors provides structured error handling for Strata.
//
// Every failure surfaced by the persistence engine is an *Error carrying a
// category (ErrorType), a human readable message, an optional cause and a set
// of key-value details. Errors wrap cleanly, so the standard library's
// errors.Is and errors.As work across the whole chain.
//
//	err := errors.New(errors.ErrorTypeValidation, "path may not contain spaces").
//		WithDetail("path", "contact info")
//
//	if errors.IsType(err, errors.ErrorTypeValidation) {
//		// reject the request before any work is scheduled
//	}
package errors

import (
	"errors"
	"runtime"

	stringpool "github.com/ajitpratap0/strata/pkg/strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents caller input which failed validation
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict represents write-disposition conflicts
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeTimeout represents operations which exceeded their deadline
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeCancelled represents operations cancelled before completion
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeInterrupted represents operations interrupted while waiting
	ErrorTypeInterrupted ErrorType = "interrupted"
	// ErrorTypeConnection represents store or cache connectivity errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents data processing errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeCapability represents features which are not supported
	ErrorTypeCapability ErrorType = "capability"
	// ErrorTypeInvalidModel represents a record used with the wrong role
	ErrorTypeInvalidModel ErrorType = "invalid_model_type"
	// ErrorTypeMissingField represents a schema lacking a required annotated field
	ErrorTypeMissingField ErrorType = "missing_field"
	// ErrorTypeDeflate represents serialization failures
	ErrorTypeDeflate ErrorType = "deflate"
	// ErrorTypeInflate represents deserialization failures
	ErrorTypeInflate ErrorType = "inflate"
	// ErrorTypeWriteFailure represents failed writes
	ErrorTypeWriteFailure ErrorType = "write_failure"
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
		return stringpool.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return stringpool.Sprintf("%s: %s", e.Type, e.Message)
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
	if e.Details == nil {
		return nil, false
	}
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

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: stringpool.Sprintf(format, args...),
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

// IsRetryable returns true if the error is retryable. The engine itself never
// retries; this is a hint for callers that do.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the outermost ErrorType in the chain, or ErrorTypeInternal
// for errors which did not originate here.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeInternal
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
