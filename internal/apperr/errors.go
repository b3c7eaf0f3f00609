// Package apperr defines the error kinds shared by storage, service and transports.
// Callers match them with errors.Is; every storage error wraps exactly one of them.
package apperr

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrDecode          = errors.New("decode error")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrUnsupported     = errors.New("unsupported")
	ErrBackend         = errors.New("backend error")
)
