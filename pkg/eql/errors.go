package eql

import "fmt"

// QueryGenerationError is returned when an EQL query cannot be lexed,
// parsed, or compiled. It carries the offending fragment so the caller can
// surface it verbatim.
type QueryGenerationError struct {
	Fragment string
	Position int
	Reason   string
}

func (e *QueryGenerationError) Error() string {
	if e.Fragment == "" {
		return fmt.Sprintf("malformed query at position %d: %s", e.Position, e.Reason)
	}
	return fmt.Sprintf("malformed query at position %d near %q: %s", e.Position, e.Fragment, e.Reason)
}

func newError(fragment string, pos int, format string, args ...any) *QueryGenerationError {
	return &QueryGenerationError{
		Fragment: fragment,
		Position: pos,
		Reason:   fmt.Sprintf(format, args...),
	}
}
