package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anggakawa/teledocker/internal/admission"
	"github.com/anggakawa/teledocker/internal/bridge"
	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/pathguard"
	"github.com/anggakawa/teledocker/internal/session"
	"github.com/anggakawa/teledocker/internal/store"
)

// Error codes returned in API responses
const (
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeSessionNotActive  = "SESSION_NOT_ACTIVE"
	ErrCodeStatusConflict    = "STATUS_CONFLICT"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
	ErrCodePathEscape        = "PATH_ESCAPE"
	ErrCodeFileTooLarge      = "FILE_TOO_LARGE"
	ErrCodeEngineUnavailable = "ENGINE_UNAVAILABLE"
	ErrCodeAgentUnreachable  = "AGENT_UNREACHABLE"
	ErrCodeAgentProtocol     = "AGENT_PROTOCOL"
	ErrCodeAgentError        = "AGENT_ERROR"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeAPIError maps sentinel errors to structured responses with an
// appropriate HTTP status.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, store.ErrNotFound):
		apiErr = APIError{Code: ErrCodeSessionNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	case errors.Is(err, session.ErrNotActive):
		apiErr = APIError{Code: ErrCodeSessionNotActive, Message: err.Error()}
		statusCode = http.StatusConflict

	case errors.Is(err, store.ErrStatusConflict):
		apiErr = APIError{Code: ErrCodeStatusConflict, Message: err.Error()}
		statusCode = http.StatusConflict

	case errors.Is(err, admission.ErrQuotaExceeded):
		apiErr = APIError{Code: ErrCodeQuotaExceeded, Message: err.Error()}
		statusCode = http.StatusTooManyRequests

	case errors.Is(err, session.ErrFileTooLarge):
		apiErr = APIError{Code: ErrCodeFileTooLarge, Message: err.Error()}
		statusCode = http.StatusRequestEntityTooLarge

	case errors.Is(err, pathguard.ErrEscape), errors.Is(err, pathguard.ErrInvalidPath):
		apiErr = APIError{Code: ErrCodePathEscape, Message: err.Error()}
		statusCode = http.StatusBadRequest

	case errors.Is(err, engine.ErrUnavailable):
		apiErr = APIError{Code: ErrCodeEngineUnavailable, Message: err.Error()}
		statusCode = http.StatusServiceUnavailable

	case errors.Is(err, bridge.ErrProtocol):
		apiErr = APIError{Code: ErrCodeAgentProtocol, Message: err.Error()}
		statusCode = http.StatusBadGateway

	case errors.Is(err, bridge.ErrHandshake), errors.Is(err, bridge.ErrConnClosed):
		apiErr = APIError{Code: ErrCodeAgentUnreachable, Message: err.Error()}
		statusCode = http.StatusBadGateway

	case errors.Is(err, bridge.ErrUpstream):
		apiErr = APIError{Code: ErrCodeAgentError, Message: err.Error()}
		statusCode = http.StatusBadGateway

	default:
		apiErr = APIError{Code: ErrCodeInternalError, Message: err.Error()}
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
