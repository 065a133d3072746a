package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/anggakawa/teledocker/internal/session"
	"github.com/anggakawa/teledocker/protocol"
)

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	filename := r.Header.Get("X-Filename")
	if filename == "" {
		writeValidationError(w, "X-Filename header is required", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(protocol.MaxFileBytes))
	content, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeAPIError(w, fmt.Errorf("%w: request body exceeds %d bytes", session.ErrFileTooLarge, protocol.MaxFileBytes))
			return
		}
		writeValidationError(w, "read request body: "+err.Error(), nil)
		return
	}

	s.logger.Debug("upload", "session_id", id, "filename", filename, "size", len(content))
	path, err := s.manager.Upload(r.Context(), id, filename, content)
	if err != nil {
		s.logger.Error("upload", "session_id", id, "filename", filename, "error", err)
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"path": path, "size": len(content)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	path := r.PathValue("path")
	if path == "" {
		writeValidationError(w, "file path is required", nil)
		return
	}

	s.logger.Debug("download", "session_id", id, "path", path)
	resolved, content, err := s.manager.Download(r.Context(), id, path)
	if err != nil {
		s.logger.Error("download", "session_id", id, "path", path, "error", err)
		writeAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(resolved)))
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}
