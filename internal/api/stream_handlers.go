package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/anggakawa/teledocker/internal/session"
)

type promptRequest struct {
	Prompt string            `json:"prompt"`
	Env    map[string]string `json:"env,omitempty"`
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req promptRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validatePromptRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("prompt", "session_id", id)
	s.streamSession(w, r, "prompt", id, func(ctx context.Context, events chan<- session.Event) error {
		return s.manager.Prompt(ctx, id, req.Prompt, req.Env, events)
	})
}

func (s *Server) handleShell(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req commandRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCommandRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("shell", "session_id", id)
	s.streamSession(w, r, "shell", id, func(ctx context.Context, events chan<- session.Event) error {
		return s.manager.Shell(ctx, id, req.Command, events)
	})
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := ValidateSessionID(id); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	var req commandRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateCommandRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.logger.Debug("exec", "session_id", id, "command", req.Command)
	s.streamSession(w, r, "exec", id, func(ctx context.Context, events chan<- session.Event) error {
		return s.manager.Exec(ctx, id, req.Command, events)
	})
}

// streamSession runs one session stream operation and relays its events to
// the client as Server-Sent Events. SSE headers are deferred until the first
// event, so a failure before any output still gets a regular JSON error
// response with the right status code.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request, op, id string, run func(ctx context.Context, events chan<- session.Event) error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, fmt.Errorf("streaming not supported"))
		return
	}

	events := make(chan session.Event, 16)
	errChan := make(chan error, 1)
	go func() {
		errChan <- run(r.Context(), events)
	}()

	started := false
	writeEvent := func(ev session.Event) bool {
		if !started {
			startSSE(w)
			started = true
		}
		return writeSSEEvent(w, flusher, ev)
	}

	for {
		select {
		case ev := <-events:
			if writeEvent(ev) {
				return
			}

		case err := <-errChan:
			// The operation returned; events it delivered before returning
			// may still sit in the buffer.
			for {
				select {
				case ev := <-events:
					if writeEvent(ev) {
						return
					}
					continue
				default:
				}
				break
			}
			if err == nil {
				return
			}
			if r.Context().Err() != nil {
				return
			}
			if !started {
				s.logger.Error(op, "session_id", id, "error", err)
				writeAPIError(w, err)
				return
			}
			// Output already started, so the failure can only surface
			// in-band.
			writeEvent(session.Event{Kind: session.KindError, Detail: err.Error()})
			return

		case <-r.Context().Done():
			return
		}
	}
}

// startSSE writes the event-stream headers.
func startSSE(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

// writeSSEEvent writes one event as a data line and reports whether it
// terminated the stream. A clean completion ends with the literal [DONE]
// marker; an error line is final and is never followed by [DONE].
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev session.Event) bool {
	switch ev.Kind {
	case session.KindData:
		payload, _ := json.Marshal(map[string]string{"chunk": ev.Payload})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	case session.KindMeta:
		// Payload is already JSON; embed it as-is.
		fmt.Fprintf(w, "data: {\"event\":%s}\n\n", ev.Payload)
	case session.KindError:
		payload, _ := json.Marshal(map[string]string{"error": ev.Detail})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return true
	case session.KindDone:
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
		return true
	}
	flusher.Flush()
	return false
}
