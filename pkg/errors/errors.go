// Package errors provides code-tagged domain errors. Services tag failures
// with a Code at the point they are classified; transports translate codes
// into wire status without re-inspecting underlying causes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers that need to branch on failure class
// without string matching.
type Code string

const (
	// CodeInvalidInput marks malformed identifiers or payloads caught at a
	// trust boundary.
	CodeInvalidInput Code = "invalid_input"

	// CodeBadRequest marks requests that are well-formed but semantically
	// unusable.
	CodeBadRequest Code = "bad_request"

	// CodeNotFound marks lookups for records that do not exist.
	CodeNotFound Code = "not_found"

	// CodeUnauthorized marks credential failures. Never retried internally;
	// callers refresh credentials and re-invoke the whole operation.
	CodeUnauthorized Code = "unauthorized"

	// CodeRejected marks permanent upstream refusals. Never retried.
	CodeRejected Code = "rejected"

	// CodeTransient marks failures expected to succeed on retry: network
	// errors, timeouts, 5xx-class upstream responses.
	CodeTransient Code = "transient"

	// CodeStorage marks local persistence failures, read or write.
	CodeStorage Code = "storage"

	// CodeTimeout marks caller-imposed deadline expiry.
	CodeTimeout Code = "timeout"

	// CodeInternal marks invariant violations and unclassified failures.
	CodeInternal Code = "internal"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two tagged errors on code and message so tests can use
// errors.Is against a freshly constructed expectation.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New builds a tagged error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a tagged error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a code and message. A nil err returns
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf returns the code of the outermost tagged error in the chain, or
// CodeInternal when the chain carries no tag.
func CodeOf(err error) Code {
	var e *Error
	if !errors.As(err, &e) {
		return CodeInternal
	}
	return e.Code
}

// ToHTTPStatus maps a code onto the HTTP status the transport layer emits.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRejected:
		return http.StatusUnprocessableEntity
	case CodeTransient:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeStorage, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
