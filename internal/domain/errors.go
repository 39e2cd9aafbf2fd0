package domain

import "errors"

var (
	// ErrNotFound indicates a lookup miss (conversation, ticket correlation).
	// Surfaced to HTTP callers as 404; never retried.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates missing or malformed caller input.
	// Surfaced as 400; no side effects were attempted.
	ErrValidation = errors.New("validation failed")
)
