// Package errors defines the API error taxonomy and its mapping from
// PostgREST/Postgres failures.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aethex/platform/infra/supabase"
)

// ErrorCode is a stable machine-readable error identifier.
type ErrorCode string

const (
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeValidation   ErrorCode = "VALIDATION_FAILED"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeInternal     ErrorCode = "INTERNAL"
	CodeUnavailable  ErrorCode = "UNAVAILABLE"
)

// ServiceError is an error that knows its HTTP status.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches a detail field and returns e.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

// Validation reports an invalid field.
func Validation(field, message string) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, message, nil).WithDetails("field", field)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "unauthorized"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "forbidden"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func NotFound(resource string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
}

func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

func Unavailable(message string) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, nil)
}

// GetServiceError unwraps err into a *ServiceError, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// StatusOf returns the HTTP status for err; unknown errors are 500.
func StatusOf(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.HTTPStatus
	}
	return http.StatusInternalServerError
}

// FromSupabase maps a database failure to a ServiceError. resource names the
// entity for not-found and conflict messages.
func FromSupabase(err error, resource string) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}

	switch {
	case supabase.IsUniqueViolation(err):
		return newError(CodeConflict, http.StatusConflict, resource+" already exists", err)
	case supabase.IsForeignKeyViolation(err):
		return newError(CodeBadRequest, http.StatusBadRequest, "referenced record does not exist", err)
	case supabase.IsNotFound(err):
		return newError(CodeNotFound, http.StatusNotFound, resource+" not found", err)
	}

	if e, ok := supabase.AsError(err); ok {
		switch e.Code {
		case supabase.CodeNotNullViolation, supabase.CodeCheckViolation:
			return newError(CodeValidation, http.StatusBadRequest, e.Message, err)
		}
		return newError(CodeInternal, http.StatusInternalServerError, e.Message, err)
	}

	return newError(CodeInternal, http.StatusInternalServerError, err.Error(), err)
}
