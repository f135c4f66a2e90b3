package database

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabaseError = errors.New("database error")
	ErrConflict      = errors.New("conflict")
)

// PostgreSQL error codes surfaced through PostgREST.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
	pgrstNoRows       = "PGRST116"
)

// NotFoundError identifies the missing row.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Code == pgrstNoRows || apiErr.Status == http.StatusNotFound)
}

// IsConflict reports whether err is a constraint or concurrent-update conflict.
func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusConflict || apiErr.Code == pgUniqueViolation || apiErr.Code == pgCheckViolation
}

// ValidateUserID requires a UUID user id, as issued by Supabase auth.
func ValidateUserID(userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id cannot be empty", ErrInvalidInput)
	}
	if _, err := uuid.Parse(userID); err != nil {
		return fmt.Errorf("%w: user_id must be a UUID", ErrInvalidInput)
	}
	return nil
}
