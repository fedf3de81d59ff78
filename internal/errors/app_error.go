// Package errors defines the structured error carried from the gateway's
// components to its HTTP handlers.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// OpenAI-compatible error type strings.
const (
	TypeInvalidRequest = "invalid_request_error"
	TypeAuthentication = "authentication_error"
	TypePermission     = "permission_error"
	TypeRateLimit      = "rate_limit_error"
	TypeUpstream       = "upstream_error"
	TypeServer         = "server_error"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Type is the OpenAI error type reported in the response envelope.
	Type string `json:"type,omitempty"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status, defaulting to 500.
func (e *AppError) StatusCode() int {
	if e == nil || e.HTTPStatusCode == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatusCode
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Type:           typeForStatus(statusCode),
		Err:            err,
	}
}

func BadRequest(message string) *AppError {
	return New(http.StatusBadRequest, "invalid_request", message, nil)
}

func Unauthorized(message string) *AppError {
	return New(http.StatusUnauthorized, "unauthorized", message, nil)
}

func Forbidden(message string) *AppError {
	return New(http.StatusForbidden, "forbidden", message, nil)
}

func Unprocessable(message string) *AppError {
	return New(http.StatusUnprocessableEntity, "unprocessable_entity", message, nil)
}

func Internal(message string, err error) *AppError {
	return New(http.StatusInternalServerError, "internal_error", message, err)
}

// Upstream wraps a failure reported by or while talking to CodeBuddy.
func Upstream(statusCode int, message string, err error) *AppError {
	e := New(statusCode, "upstream_error", message, err)
	if statusCode >= http.StatusInternalServerError {
		e.Type = TypeUpstream
	}
	return e
}

// As extracts an *AppError from err. Errors that are not AppErrors but expose
// StatusCode() are converted using that status; everything else becomes a 500.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var coded interface{ StatusCode() int }
	if stderrors.As(err, &coded) {
		return New(coded.StatusCode(), "error", err.Error(), err)
	}
	return Internal(err.Error(), err)
}

func typeForStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return TypeAuthentication
	case status == http.StatusForbidden:
		return TypePermission
	case status == http.StatusTooManyRequests:
		return TypeRateLimit
	case status >= http.StatusInternalServerError:
		return TypeServer
	default:
		return TypeInvalidRequest
	}
}
