// Package errors defines the service error taxonomy and its HTTP mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the stable machine-readable identifier sent to clients.
type ErrorCode string

const (
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeInvalidToken      ErrorCode = "INVALID_TOKEN"
	CodeForbidden         ErrorCode = "FORBIDDEN"
	CodeLocked            ErrorCode = "INTERVAL_LOCKED"
	CodeBadRequest        ErrorCode = "BAD_REQUEST"
	CodeSupplyExhausted   ErrorCode = "SUPPLY_EXHAUSTED"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeStoreFailure      ErrorCode = "STORE_FAILURE"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is an error that knows how it should be rendered over HTTP.
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

// WithDetails attaches a detail entry and returns the same error for chaining.
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

// Unauthorized reports a missing or unusable caller identity.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a bearer token that failed verification.
func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "Invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// Locked reports a commit attempted inside the cooldown window without force.
func Locked(remainingMinutes int) *ServiceError {
	return newError(CodeLocked, http.StatusForbidden, "Interval lock is active", nil).
		WithDetails("remaining_minutes", remainingMinutes)
}

func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

// SupplyExhausted reports a supply with no remaining units.
func SupplyExhausted(supplyID string) *ServiceError {
	return newError(CodeSupplyExhausted, http.StatusBadRequest, "Supply has no remaining units", nil).
		WithDetails("supply_id", supplyID)
}

func NotFound(resource, id string) *ServiceError {
	e := newError(CodeNotFound, http.StatusNotFound, resource+" not found", nil)
	if id != "" {
		e.WithDetails("id", id)
	}
	return e
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimitExceeded, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// StoreFailure wraps a persistence error. It is never retried by the service.
func StoreFailure(op string, err error) *ServiceError {
	return newError(CodeStoreFailure, http.StatusInternalServerError, "Storage operation failed", err).
		WithDetails("operation", op)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError returns the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
