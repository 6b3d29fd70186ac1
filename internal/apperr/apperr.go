// Package apperr defines the error kinds shared by the stores and mapped to
// HTTP status codes by the API layer.
package apperr

import "errors"

var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the record is not in a state that allows the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidInput means the request itself is malformed.
	ErrInvalidInput = errors.New("invalid input")
)
