// Package apperr is the application error contract shared by the service
// layer and whatever transport sits on top of it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind sentinels. Concrete errors match them through errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrBadRequest = errors.New("bad request")
	ErrUsage      = errors.New("usage error")
)

// Stable error codes.
const (
	CodeNotFound   = "resource.not_found"
	CodeConflict   = "resource.conflict"
	CodeBadRequest = "validation.bad_request"
	CodeUsage      = "request.usage"
	CodeInternal   = "internal.error"
)

// Error is a stable code plus message with optional details and cause.
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Cause      error

	kind error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	label := e.Code
	if e.Message != "" {
		label = e.Message
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", label, e.Cause)
	}
	return label
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the kind sentinel the error was built with.
func (e *Error) Is(target error) bool {
	return e != nil && e.kind != nil && e.kind == target
}

// WithDetails sets structured error details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	e.Details = details
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(cause error) *Error {
	if e == nil {
		return nil
	}
	e.Cause = cause
	return e
}

// New creates an Error with a stable code. The HTTP status is inferred from
// the code.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: inferStatusFromCode(code)}
}

// NewNotFound creates a not found error.
func NewNotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound, kind: ErrNotFound}
}

// NewConflict creates a conflict error.
func NewConflict(message string, details map[string]interface{}) *Error {
	return &Error{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict, Details: details, kind: ErrConflict}
}

// NewBadRequest creates a bad request error.
func NewBadRequest(message string) *Error {
	return &Error{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest, kind: ErrBadRequest}
}

// NewUsage creates a generic usage error for calls that miss required arguments.
func NewUsage(message string) *Error {
	return &Error{Code: CodeUsage, Message: message, HTTPStatus: http.StatusInternalServerError, kind: ErrUsage}
}

// StatusOf returns the HTTP status carried by err, 500 for foreign errors.
func StatusOf(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return appErr.HTTPStatus
}

// CodeOf returns the stable code carried by err, CodeInternal for foreign errors.
func CodeOf(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) || appErr.Code == "" {
		return CodeInternal
	}
	return appErr.Code
}

func inferStatusFromCode(code string) int {
	lowerCode := strings.ToLower(strings.TrimSpace(code))
	switch {
	case strings.HasPrefix(lowerCode, "validation."):
		return http.StatusBadRequest
	case strings.Contains(lowerCode, "not_found"):
		return http.StatusNotFound
	case strings.Contains(lowerCode, "conflict"):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
