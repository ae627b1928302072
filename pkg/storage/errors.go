package storage

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrUnsupported indicates the backend cannot support the requested
	// operation. It is a documented capability gap, distinct from an
	// empty result.
	ErrUnsupported = errors.New("operation not supported by this backend")
)
