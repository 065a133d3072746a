package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anggakawa/teledocker/protocol"
)

const (
	// Per-frame write deadline.
	writeWait = 10 * time.Second

	// The daemon pings every 54 seconds; the read deadline must outlast
	// one full ping interval plus network slack.
	readWait = 90 * time.Second

	// Frames carry base64 file payloads, so the limit sits above the
	// transfer cap with room for encoding overhead.
	maxFrameBytes = 16 * 1024 * 1024
)

type server struct {
	workspace string
	agent     *agentRunner
	started   time.Time
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func newServer(workspace, agentBinary string, logger *slog.Logger) *server {
	return &server{
		workspace: workspace,
		agent:     newAgentRunner(agentBinary, workspace),
		started:   time.Now(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 32 * 1024,
		},
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	s.logger.Info("control connection opened", "remote", r.RemoteAddr)
	s.serveConn(ws)
}

// serveConn reads requests off one control connection until it drops. A
// request runs in its own goroutine so the read loop stays free to answer
// the daemon's keepalive pings during long executions; closing the
// connection cancels whatever is still running.
func (s *server) serveConn(ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer ws.Close()

	ws.SetReadLimit(maxFrameBytes)
	ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(readWait))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	fw := &frameWriter{ws: ws}

	var inflight sync.WaitGroup
	var busyMu sync.Mutex
	busy := false

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("control connection lost", "error", err)
			}
			break
		}
		ws.SetReadDeadline(time.Now().Add(readWait))

		if msgType != websocket.TextMessage {
			fw.fail("", "binary frames are not part of the protocol")
			continue
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil {
			fw.fail("", "invalid request: "+err.Error())
			continue
		}

		busyMu.Lock()
		if busy {
			busyMu.Unlock()
			fw.fail(req.ID, "a request is already in flight on this connection")
			continue
		}
		busy = true
		busyMu.Unlock()

		inflight.Add(1)
		go func(req protocol.Request) {
			defer inflight.Done()
			s.dispatch(ctx, fw, req)
			busyMu.Lock()
			busy = false
			busyMu.Unlock()
		}(req)
	}

	// The read side is gone. Kill anything still running and wait for the
	// handler goroutine to notice before tearing the connection down.
	cancel()
	inflight.Wait()
}

func (s *server) dispatch(ctx context.Context, fw *frameWriter, req protocol.Request) {
	s.logger.Info("request", "id", req.ID, "method", req.Method)

	switch req.Method {
	case protocol.MethodExecutePrompt:
		s.handleExecutePrompt(ctx, fw, req)
	case protocol.MethodRunShell:
		s.handleRunShell(ctx, fw, req)
	case protocol.MethodUploadFile:
		s.handleUploadFile(fw, req)
	case protocol.MethodDownloadFile:
		s.handleDownloadFile(fw, req)
	case protocol.MethodHealthCheck:
		s.handleHealthCheck(fw, req)
	default:
		fw.fail(req.ID, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

// frameWriter serializes frame writes onto the websocket; gorilla allows
// only one concurrent writer per connection.
type frameWriter struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (w *frameWriter) write(f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return w.ws.WriteMessage(websocket.TextMessage, data)
}

func (w *frameWriter) chunk(id, text string) error {
	return w.write(protocol.Frame{ID: id, Chunk: text})
}

func (w *frameWriter) event(id string, event map[string]any) error {
	return w.write(protocol.Frame{ID: id, Event: event})
}

func (w *frameWriter) result(id string, res *protocol.Result) error {
	return w.write(protocol.Frame{ID: id, Result: res, Done: true})
}

func (w *frameWriter) done(id string) error {
	return w.write(protocol.Frame{ID: id, Done: true})
}

func (w *frameWriter) fail(id, message string) error {
	return w.write(protocol.Frame{ID: id, Error: message, Done: true})
}
