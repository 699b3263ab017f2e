package domain

import "errors"

var (
	// ErrMismatch is returned when route identifiers disagree with the request body.
	ErrMismatch = errors.New("route and body identifiers do not match")
	// ErrNotFound is returned when a natural-key entity or its parent is absent.
	ErrNotFound = errors.New("entity not found")
	// ErrConflict is returned when creating an entity that already exists and is not deleted.
	ErrConflict = errors.New("entity already exists")
	// ErrPersistence wraps any failure of the underlying store.
	ErrPersistence = errors.New("persistence failure")
	// ErrValidation is returned for malformed keys and bodies.
	ErrValidation = errors.New("validation failed")
)
