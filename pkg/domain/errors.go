package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by document stores when a model, medium or bank key
// does not resolve to a stored document.
var ErrNotFound = errors.New("document not found")

// ParseError reports a stored document that could not be decoded.
type ParseError struct {
	Kind string // model | medium | bank | worklist
	Key  string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %s: %v", e.Kind, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NotFoundError wraps ErrNotFound with the kind and key that failed to resolve.
func NotFoundError(kind, key string) error {
	return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
}
