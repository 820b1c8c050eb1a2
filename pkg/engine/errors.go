package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// fallback logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. Examples: 401/403 responses observed while a fresh permission
	// grant is still propagating, network timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassCapability indicates the active credential lacks a required
	// capability on the target. The convergence worker may still fall back
	// to the next configuration variant.
	ErrorClassCapability ErrorClass = "capability"

	// ErrorClassUnsupported indicates the target rejected a configuration
	// variant as unsupported. Expected; triggers fallback to the next
	// variant in priority order.
	ErrorClassUnsupported ErrorClass = "unsupported"

	// ErrorClassPermanent indicates a non-recoverable error for this target.
	// Examples: invalid configuration, authorization permanently denied.
	ErrorClassPermanent ErrorClass = "permanent"
)

// ReconcileError represents a classified error with target context.
type ReconcileError struct {
	// Class is the error classification for retry and fallback logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Target is the target ID that produced the error, if applicable.
	Target string `json:"target,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	if e.Target != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (target=%s, operation=%s): %s",
			e.Class, e.Message, e.Target, e.Operation, e.unwrapMessage())
	}
	if e.Target != "" {
		return fmt.Sprintf("[%s] %s (target=%s): %s",
			e.Class, e.Message, e.Target, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

func (e *ReconcileError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *ReconcileError) Is(target error) bool {
	t, ok := target.(*ReconcileError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewCapabilityError creates a new capability error.
func NewCapabilityError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassCapability, Message: message, Err: err}
}

// NewUnsupportedError creates a new variant-unsupported error.
func NewUnsupportedError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassUnsupported, Message: message, Err: err}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *ReconcileError {
	return &ReconcileError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithTarget adds target context to an error.
func (e *ReconcileError) WithTarget(targetID string) *ReconcileError {
	e.Target = targetID
	return e
}

// WithOperation adds operation context to an error.
func (e *ReconcileError) WithOperation(operation string) *ReconcileError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *ReconcileError) WithCode(code string) *ReconcileError {
	e.Code = code
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsCapability returns true if the error is classified as capability-related.
func IsCapability(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Class == ErrorClassCapability
	}
	return false
}

// IsUnsupported returns true if the error marks a variant as unsupported.
func IsUnsupported(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUnsupported
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *ReconcileError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried against the same
// variant. Only transient errors qualify; capability errors fall through to
// the next variant and unsupported/permanent errors never retry.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Common error codes.
const (
	ErrCodeEnumeration      = "ENUMERATION_FAILED"
	ErrCodeNoCredential     = "NO_AUTHORIZED_CREDENTIAL"
	ErrCodeUnsupported      = "VARIANT_UNSUPPORTED"
	ErrCodeAuthDenied       = "AUTHORIZATION_DENIED"
	ErrCodeTimeout          = "OPERATION_TIMEOUT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeSharedInfra      = "SHARED_INFRA_FAILED"
	ErrCodeOperationFailed  = "OPERATION_FAILED"
	ErrCodeOperationStopped = "OPERATION_STOPPED"
	ErrCodeStore            = "STATE_STORE_ERROR"
	ErrCodeValidation       = "VALIDATION_ERROR"
)
