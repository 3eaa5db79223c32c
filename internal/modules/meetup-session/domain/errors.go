package domain

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionClosed      = errors.New("session is not active")
	ErrSessionFull        = errors.New("session is full")
	ErrConflict           = errors.New("invite code already in use")
	ErrCodeSpaceExhausted = errors.New("invite code space exhausted")
	ErrTimeout            = errors.New("timed out waiting for session membership")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotOwner           = errors.New("only the session owner can do this")
	ErrOwnerCannotLeave   = errors.New("the session owner cannot leave an active session")

	// ErrRetryable marks a transient failure (lost lock race, serialization
	// failure, busy database) that left no partial write behind.
	ErrRetryable = errors.New("transient storage failure")
)
