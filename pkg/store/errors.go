package store

import "errors"

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrSessionCompleted is returned when an append targets a session
	// that has already transitioned to completed.
	ErrSessionCompleted = errors.New("session already completed")
)
