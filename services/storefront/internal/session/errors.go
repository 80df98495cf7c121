package session

import (
	"errors"
	"fmt"
	"net/http"

	"bookstore/services/storefront/internal/authclient"
)

// AuthError is a rejection from the auth endpoints (4xx).
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// ServerError is a 5xx or transport failure while talking to the backend.
type ServerError struct {
	Op  string
	Err error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

// ValidationError is raised before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func classify(op string, err error) error {
	var apiErr *authclient.APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		return &AuthError{Status: apiErr.Status, Message: apiErr.Message}
	}
	return &ServerError{Op: op, Err: err}
}
