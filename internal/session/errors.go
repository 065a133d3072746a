package session

import "errors"

// Sentinel errors
var (
	// ErrNotFound means no session record exists for the given ID.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive means the session exists but is not in a state the
	// requested operation accepts.
	ErrNotActive = errors.New("session not active")
	// ErrFileTooLarge means an upload exceeds the per-file transfer cap.
	ErrFileTooLarge = errors.New("file too large")
)
