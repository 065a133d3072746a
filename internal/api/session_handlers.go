package api

import (
	"net/http"

	"github.com/anggakawa/teledocker/internal/session"
)

type createSessionRequest struct {
	OwnerID  string            `json:"owner_id"`
	Env      map[string]string `json:"env,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	if err := validateCreateSessionRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("create session request", "owner_id", req.OwnerID)
	info, reused, err := s.manager.Create(r.Context(), session.CreateOpts{
		OwnerID:  req.OwnerID,
		Env:      req.Env,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.logger.Error("create session", "owner_id", req.OwnerID, "error", err)
		writeAPIError(w, err)
		return
	}

	// An owner with a live session gets that one back instead of a second.
	if reused {
		s.logger.Debug("session reused", "session_id", info.ID, "owner_id", info.OwnerID)
		writeJSON(w, http.StatusOK, info)
		return
	}
	s.logger.Debug("session created", "session_id", info.ID, "owner_id", info.OwnerID)
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	info, err := s.manager.Get(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")
	status := r.URL.Query().Get("status")
	if err := validateStatusFilter(status); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	sessions, err := s.manager.List(r.Context(), owner, status)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.logger.Debug("list sessions", "owner", owner, "status", status, "count", len(sessions))
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	s.logger.Debug("stop session", "session_id", id)
	if err := s.manager.Stop(r.Context(), id); err != nil {
		s.logger.Error("stop session", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleRestartSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	s.logger.Debug("restart session", "session_id", id)
	info, err := s.manager.Restart(r.Context(), id)
	if err != nil {
		s.logger.Error("restart session", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	s.logger.Debug("destroy session", "session_id", id)
	if err := s.manager.Destroy(r.Context(), id); err != nil {
		s.logger.Error("destroy session", "session_id", id, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	report, err := s.manager.Status(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
