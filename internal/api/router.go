package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/anggakawa/teledocker/internal/config"
)

type Server struct {
	cfg     *config.Config
	manager SessionService
	quota   QuotaReporter
	logger  *slog.Logger
	mux     *http.ServeMux
}

func NewServer(cfg *config.Config, mgr SessionService, quota QuotaReporter, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: mgr,
		quota:   quota,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.requestIDMiddleware(s.mux))
}

func (s *Server) routes() {
	// Session lifecycle
	s.mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/stop", s.handleStopSession)
	s.mux.HandleFunc("POST /v1/sessions/{id}/restart", s.handleRestartSession)
	s.mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDestroySession)
	s.mux.HandleFunc("GET /v1/sessions/{id}/stats", s.handleSessionStats)

	// Streaming operations (SSE)
	s.mux.HandleFunc("POST /v1/sessions/{id}/prompt", s.handlePrompt)
	s.mux.HandleFunc("POST /v1/sessions/{id}/shell", s.handleShell)
	s.mux.HandleFunc("POST /v1/sessions/{id}/exec", s.handleExec)

	// Workspace files
	s.mux.HandleFunc("PUT /v1/sessions/{id}/files", s.handleUpload)
	s.mux.HandleFunc("GET /v1/sessions/{id}/files/{path...}", s.handleDownload)

	// Service status (quota usage)
	s.mux.HandleFunc("GET /v1/status", s.handleServiceStatus)

	// Health check (no auth)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
