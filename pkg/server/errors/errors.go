// Package errors maps internal failures onto the error classes exposed by
// the query service.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a service error for callers that map errors to transport
// status codes.
type Kind int

const (
	// KindInternal is the default for unexpected failures. Internal
	// detail is logged, not returned.
	KindInternal Kind = iota

	// KindUnauthenticated marks a missing or unknown api key.
	KindUnauthenticated

	// KindInvalidQuery marks a query rejected at compile time.
	KindInvalidQuery

	// KindUnavailable marks a backend that could not be reached.
	KindUnavailable
)

// ServiceError is the error type crossing the query service boundary.
type ServiceError struct {
	kind Kind
	msg  string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// PublicMessage returns the message safe to show to a caller. Internal
// errors collapse to a generic message.
func (e *ServiceError) PublicMessage() string {
	if e.kind == KindInternal || e.kind == KindUnavailable {
		return "internal error"
	}
	return e.msg
}

// New creates a ServiceError of the given kind wrapping err.
func New(kind Kind, msg string, err error) *ServiceError {
	return &ServiceError{kind: kind, msg: msg, err: err}
}

// KindOf returns the Kind of err, or KindInternal when err is not a
// ServiceError.
func KindOf(err error) Kind {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.kind
	}
	return KindInternal
}
