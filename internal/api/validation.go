package api

import (
	"fmt"
	"regexp"

	"github.com/anggakawa/teledocker/internal/store"
)

var (
	// sessionIDPattern matches session IDs as issued (lowercase hex and hyphens)
	sessionIDPattern = regexp.MustCompile(`^[a-f0-9][a-f0-9-]*[a-f0-9]$`)

	// ownerIDPattern allows numeric chat IDs (including negative group IDs)
	// and plain account handles
	ownerIDPattern = regexp.MustCompile(`^-?[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
)

// ValidateSessionID checks a path-supplied session ID before it reaches the
// store.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if len(id) < 8 || len(id) > 64 {
		return fmt.Errorf("session id must be between 8 and 64 characters")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id must contain only lowercase hex characters and hyphens")
	}
	return nil
}

// validateCreateSessionRequest validates session creation parameters
func validateCreateSessionRequest(req createSessionRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if len(req.OwnerID) > 64 {
		return fmt.Errorf("owner_id must not exceed 64 characters")
	}
	if !ownerIDPattern.MatchString(req.OwnerID) {
		return fmt.Errorf("owner_id must contain only letters, numbers, dots, underscores, and hyphens")
	}

	if len(req.Env) > 32 {
		return fmt.Errorf("env must not exceed 32 entries")
	}
	for k := range req.Env {
		if k == "" {
			return fmt.Errorf("env keys must be non-empty")
		}
	}

	if len(req.Metadata) > 32 {
		return fmt.Errorf("metadata must not exceed 32 entries")
	}

	return nil
}

// validateStatusFilter validates the optional ?status= list filter
func validateStatusFilter(status string) error {
	switch status {
	case "", store.StatusCreating, store.StatusRunning, store.StatusPaused,
		store.StatusStopped, store.StatusError, store.StatusRemoved:
		return nil
	}
	return fmt.Errorf("unknown status %q", status)
}

// validatePromptRequest validates agent prompt parameters
func validatePromptRequest(req promptRequest) error {
	if req.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if len(req.Env) > 32 {
		return fmt.Errorf("env must not exceed 32 entries")
	}
	return nil
}

// validateCommandRequest validates shell and exec parameters
func validateCommandRequest(req commandRequest) error {
	if req.Command == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}
