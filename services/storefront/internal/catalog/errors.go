package catalog

import (
	"errors"
	"fmt"

	"bookstore/services/storefront/internal/bookclient"
)

// ErrNoSession is returned when an operation needs a signed-in user.
var ErrNoSession = errors.New("catalog: no active session")

// ValidationError is raised before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ServerError wraps a failed backend call. Status is zero for transport
// failures.
type ServerError struct {
	Op     string
	Status int
	Err    error
}

func (e *ServerError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %d %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

func serverError(op string, err error) error {
	var apiErr *bookclient.APIError
	if errors.As(err, &apiErr) {
		return &ServerError{Op: op, Status: apiErr.Status, Err: err}
	}
	return &ServerError{Op: op, Err: err}
}
