package errors

import (
	"strings"

	stringpool "github.com/ajitpratap0/strata/pkg/strings"
)

// Failure classifies why a blocking persistence call gave up.
type Failure string

const (
	// FailureTimeout indicates the bounded wait elapsed
	FailureTimeout Failure = "TIMEOUT"
	// FailureCancelled indicates the operation was cancelled
	FailureCancelled Failure = "CANCELLED"
	// FailureInterrupted indicates the waiting caller was interrupted
	FailureInterrupted Failure = "INTERRUPTED"
	// FailureInternal covers every other fault
	FailureInternal Failure = "INTERNAL"
)

// Message returns the canonical message for the failure kind.
func (f Failure) Message() string {
	switch f {
	case FailureTimeout:
		return "The operation timed out."
	case FailureCancelled:
		return "The operation was cancelled."
	case FailureInterrupted:
		return "The operation was interrupted."
	default:
		return "An unknown internal error occurred."
	}
}

func (f Failure) errorType() ErrorType {
	switch f {
	case FailureTimeout:
		return ErrorTypeTimeout
	case FailureCancelled:
		return ErrorTypeCancelled
	case FailureInterrupted:
		return ErrorTypeInterrupted
	default:
		return ErrorTypeInternal
	}
}

// Detail keys attached by the model error constructors.
const (
	DetailModelType     = "model_type"
	DetailAllowedRoles  = "allowed_roles"
	DetailRequiredField = "required_field"
	DetailKey           = "key"
	DetailExpectation   = "expectation"
	DetailFailure       = "failure"
	DetailFeature       = "feature"
)

// InvalidModelType reports a record whose role is not one of the allowed roles.
func InvalidModelType(typeName string, allowed ...string) *Error {
	e := &Error{
		Type: ErrorTypeInvalidModel,
		Message: stringpool.Sprintf("Invalid model type: '%s' is not one of the allowed types '%s'.",
			typeName, strings.Join(allowed, ", ")),
		Stack: captureStack(2),
	}
	return e.WithDetail(DetailModelType, typeName).WithDetail(DetailAllowedRoles, allowed)
}

// MissingAnnotatedField reports a schema lacking the annotated field an operation needs.
func MissingAnnotatedField(typeName, fieldKind string) *Error {
	e := &Error{
		Type: ErrorTypeMissingField,
		Message: stringpool.Sprintf("Model type '%s' failed to be processed, because it is missing the annotated "+
			"field '%s', which was required for the requested operation.", typeName, fieldKind),
		Stack: captureStack(2),
	}
	return e.WithDetail(DetailModelType, typeName).WithDetail(DetailRequiredField, fieldKind)
}

// ModelDeflate wraps a serialization failure.
func ModelDeflate(cause error) *Error {
	return &Error{
		Type:    ErrorTypeDeflate,
		Message: "failed to serialize model",
		Cause:   cause,
		Stack:   captureStack(2),
	}
}

// ModelInflate wraps a deserialization failure.
func ModelInflate(cause error) *Error {
	return &Error{
		Type:    ErrorTypeInflate,
		Message: "failed to deserialize model",
		Cause:   cause,
		Stack:   captureStack(2),
	}
}

// ModelWriteFailure reports a failed write at the given key.
func ModelWriteFailure(key interface{}, cause error) *Error {
	msg := stringpool.Sprintf("Failed to write model at key '%v'.", key)
	if cause != nil {
		msg = stringpool.Sprintf("Failed to write model at key '%v': %s.", key, cause.Error())
	}
	e := &Error{
		Type:    ErrorTypeWriteFailure,
		Message: msg,
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailKey, key)
}

// ModelWriteConflict reports a write whose existence precondition did not hold.
func ModelWriteConflict(key interface{}, expectation string) *Error {
	e := &Error{
		Type: ErrorTypeConflict,
		Message: stringpool.Sprintf("Cannot write to the specified model. Key %v did not meet expectation %s.",
			key, expectation),
		Stack: captureStack(2),
	}
	return e.WithDetail(DetailKey, key).WithDetail(DetailExpectation, expectation)
}

// OperationFailed translates an asynchronous fault at a blocking call boundary.
func OperationFailed(kind Failure, cause error) *Error {
	e := &Error{
		Type:    kind.errorType(),
		Message: kind.Message(),
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailFailure, kind)
}

// FailureOf returns the failure kind attached by OperationFailed.
func FailureOf(err error) (Failure, bool) {
	for err != nil {
		var e *Error
		if !As(err, &e) {
			return "", false
		}
		if v, ok := e.Detail(DetailFailure); ok {
			if kind, ok := v.(Failure); ok {
				return kind, true
			}
		}
		err = e.Cause
	}
	return "", false
}

// Unsupported reports a feature the engine refuses to emulate.
func Unsupported(feature string) *Error {
	e := &Error{
		Type:    ErrorTypeCapability,
		Message: stringpool.Sprintf("%s is not supported", feature),
		Stack:   captureStack(2),
	}
	return e.WithDetail(DetailFeature, feature)
}
