package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the language-neutral error taxonomy surfaced by every public
// operation (spec §7). It is the only vocabulary callers ever see: no
// operation surfaces a raw provider exception.
type ErrorKind string

const (
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindAlreadyExists      ErrorKind = "ALREADY_EXISTS"
	KindAlreadyRunning     ErrorKind = "ALREADY_RUNNING"
	KindAlreadyInitialized ErrorKind = "ALREADY_INITIALIZED"
	KindDenied             ErrorKind = "DENIED"
	KindPrecondition       ErrorKind = "PRECONDITION"
	KindExternal           ErrorKind = "EXTERNAL"
	KindTimeout            ErrorKind = "TIMEOUT"
	KindCancelled          ErrorKind = "CANCELLED"
	KindInternal           ErrorKind = "INTERNAL"
)

// DomainError is the structured error every public operation returns on
// failure: the (status, code, message, details) quadruple of spec §7.
type DomainError struct {
	Kind          ErrorKind
	Code          string
	Message       string
	Retryable     bool
	Cause         error
	Details       map[string]interface{}
	CorrelationID string
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Code, e.Message)
}

func (e *DomainError) Unwrap() error { return e.Cause }

func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// WithCause attaches the underlying provider error. Only INTERNAL errors
// are logged with this at full fidelity; all others log at info/warn.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds a safe, non-secret detail to the error payload (e.g. a
// failing file path or a git stderr head).
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCorrelationID stamps the error with a correlation id. Required for
// INTERNAL errors.
func (e *DomainError) WithCorrelationID(id string) *DomainError {
	e.CorrelationID = id
	return e
}

func newErr(kind ErrorKind, code, message string, retryable bool) *DomainError {
	return &DomainError{Kind: kind, Code: code, Message: message, Retryable: retryable}
}

func ErrNotFound(resource, id string) *DomainError {
	return newErr(KindNotFound, "NOT_FOUND", fmt.Sprintf("%s not found: %s", resource, id), false)
}

func ErrAlreadyExists(resource, id string) *DomainError {
	return newErr(KindAlreadyExists, "ALREADY_EXISTS", fmt.Sprintf("%s already exists: %s", resource, id), false)
}

func ErrAlreadyRunning(message string) *DomainError {
	return newErr(KindAlreadyRunning, "ALREADY_RUNNING", message, false)
}

func ErrAlreadyInitialized(message string) *DomainError {
	return newErr(KindAlreadyInitialized, "ALREADY_INITIALIZED", message, false)
}

func ErrDenied(reason string) *DomainError {
	return newErr(KindDenied, "DENIED", reason, false)
}

func ErrPrecondition(code, message string) *DomainError {
	return newErr(KindPrecondition, code, message, false)
}

func ErrExternal(code, message string) *DomainError {
	return newErr(KindExternal, code, message, true)
}

func ErrTimeout(message string) *DomainError {
	return newErr(KindTimeout, "TIMEOUT", message, true)
}

func ErrCancelled(message string) *DomainError {
	return newErr(KindCancelled, "CANCELLED", message, false)
}

// ErrInternal creates a bug-shaped error. This is the only kind that must
// carry a correlation id and be logged with a full cause chain.
func ErrInternal(correlationID, message string) *DomainError {
	return &DomainError{Kind: KindInternal, Code: "INTERNAL", Message: message, CorrelationID: correlationID}
}

// IsRetryable reports whether err wraps a retryable DomainError.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// Kind extracts the ErrorKind of err. A nil error has no kind; any non-nil,
// non-DomainError is treated as INTERNAL, since every public operation must
// translate provider errors before returning them.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err's kind equals k.
func IsKind(err error, k ErrorKind) bool {
	return Kind(err) == k
}
